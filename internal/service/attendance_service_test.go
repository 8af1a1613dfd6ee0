package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-attendance-api/internal/models"
	appErrors "github.com/noah-isme/sma-attendance-api/pkg/errors"
	"github.com/noah-isme/sma-attendance-api/pkg/export"
)

type stubAttendanceRepo struct {
	mu          sync.Mutex
	records     map[string]models.AttendanceRecord
	counts      []models.AttendanceStatusCount
	roster      []models.RosterEntry
	rejectNext  bool
	lastRoster  time.Time
	updateCalls int
}

func newStubAttendanceRepo() *stubAttendanceRepo {
	return &stubAttendanceRepo{records: map[string]models.AttendanceRecord{}}
}

func (r *stubAttendanceRepo) FindByID(ctx context.Context, id string) (*models.AttendanceRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &rec, nil
}

func (r *stubAttendanceRepo) FindDetailByID(ctx context.Context, id string) (*models.AttendanceRecordDetail, error) {
	rec, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.AttendanceRecordDetail{AttendanceRecord: *rec, StudentName: "Ana"}, nil
}

func (r *stubAttendanceRepo) Exists(ctx context.Context, scheduleID, studentID string, date time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.ScheduleID == scheduleID && rec.StudentID == studentID && rec.Date.Equal(date) {
			return true, nil
		}
	}
	return false, nil
}

func (r *stubAttendanceRepo) Create(ctx context.Context, record *models.AttendanceRecord) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rejectNext {
		r.rejectNext = false
		return false, nil
	}
	record.ID = "rec-" + record.StudentID
	r.records[record.ID] = *record
	return true, nil
}

func (r *stubAttendanceRepo) Update(ctx context.Context, record *models.AttendanceRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updateCalls++
	r.records[record.ID] = *record
	return nil
}

func (r *stubAttendanceRepo) CountByStatus(ctx context.Context, scheduleID string, date time.Time) ([]models.AttendanceStatusCount, error) {
	return r.counts, nil
}

func (r *stubAttendanceRepo) Roster(ctx context.Context, scheduleID, groupID string, date time.Time) ([]models.RosterEntry, error) {
	r.lastRoster = date
	return r.roster, nil
}

type stubScheduleDetails map[string]models.ScheduleDetail

func (s stubScheduleDetails) FindDetailByID(ctx context.Context, id string) (*models.ScheduleDetail, error) {
	d, ok := s[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &d, nil
}

type recordingNotifier struct {
	ids []string
	err error
}

func (n *recordingNotifier) NotifyAttendanceCreated(ctx context.Context, recordID string) error {
	n.ids = append(n.ids, recordID)
	return n.err
}

type attendanceFixture struct {
	svc      *AttendanceService
	repo     *stubAttendanceRepo
	groups   *stubGroups
	notifier *recordingNotifier
	metrics  *MetricsService
}

// 05:00 in UTC+7 is still the previous day in UTC.
var fixtureNow = time.Date(2024, 9, 3, 5, 0, 0, 0, time.FixedZone("WIB", 7*60*60))

func newAttendanceFixture() *attendanceFixture {
	repo := newStubAttendanceRepo()
	groups := newFixtureGroups()
	notifier := &recordingNotifier{}
	metrics := NewMetricsService()
	schedules := stubScheduleDetails{
		"s-1": {
			Schedule:     models.Schedule{ID: "s-1", InstitutionID: "inst-1", PeriodID: "p-1", GroupID: "g-1", SubjectID: "sub-1", DayOfWeek: 1, StartTime: "08:00", EndTime: "09:00"},
			PeriodActive: true, GroupName: "X IPA 1", SubjectName: "Matematika",
		},
		"s-closed": {
			Schedule:     models.Schedule{ID: "s-closed", InstitutionID: "inst-1", PeriodID: "p-0", GroupID: "g-old", DayOfWeek: 1, StartTime: "08:00", EndTime: "09:00"},
			PeriodActive: false,
		},
	}
	svc := NewAttendanceService(repo, schedules, groups, newFixtureUsers(), notifier, metrics, nil, nil)
	svc.now = func() time.Time { return fixtureNow }
	return &attendanceFixture{svc: svc, repo: repo, groups: groups, notifier: notifier, metrics: metrics}
}

func TestRegisterByCodeCreatesPresentRecord(t *testing.T) {
	f := newAttendanceFixture()

	detail, err := f.svc.RegisterByCode(context.Background(), teacherPrincipal, "s-1", RegisterByCodeRequest{StudentCode: "QR-001"})
	require.NoError(t, err)
	assert.Equal(t, models.AttendanceStatusPresent, detail.Status)
	assert.Equal(t, "stu-1", detail.StudentID)
	assert.Equal(t, "t-1", detail.TeacherID)
	assert.Equal(t, "inst-1", detail.InstitutionID)
	assert.Equal(t, time.Date(2024, 9, 2, 0, 0, 0, 0, time.UTC), detail.Date)
	assert.Equal(t, "Ana", detail.StudentName)
	assert.Equal(t, "Matematika", detail.SubjectName)
	assert.Equal(t, []string{detail.ID}, f.notifier.ids)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.registrations.WithLabelValues(RegistrationMethodScan)))
}

func TestRegisterByCodeTwiceSameDayRejected(t *testing.T) {
	f := newAttendanceFixture()
	ctx := context.Background()

	_, err := f.svc.RegisterByCode(ctx, teacherPrincipal, "s-1", RegisterByCodeRequest{StudentCode: "QR-001"})
	require.NoError(t, err)

	_, err = f.svc.RegisterByCode(ctx, teacherPrincipal, "s-1", RegisterByCodeRequest{StudentCode: "QR-001"})
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrValidation)
	assert.Equal(t, "already registered today", appErrors.FromError(err).Message)
	assert.Len(t, f.repo.records, 1)
}

func TestRegisterLostInsertRaceRejected(t *testing.T) {
	f := newAttendanceFixture()
	f.repo.rejectNext = true

	_, err := f.svc.RegisterByCode(context.Background(), teacherPrincipal, "s-1", RegisterByCodeRequest{StudentCode: "QR-001"})
	require.Error(t, err)
	assert.Equal(t, "already registered today", appErrors.FromError(err).Message)
	assert.Empty(t, f.notifier.ids)
}

func TestRegisterByCodeNonMemberForbidden(t *testing.T) {
	f := newAttendanceFixture()

	_, err := f.svc.RegisterByCode(context.Background(), teacherPrincipal, "s-1", RegisterByCodeRequest{StudentCode: "QR-002"})
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
	assert.Empty(t, f.repo.records)
}

func TestRegisterByCodePreconditions(t *testing.T) {
	cases := []struct {
		name       string
		principal  models.Principal
		scheduleID string
		code       string
		wantErr    *appErrors.Error
	}{
		{"unknown schedule", teacherPrincipal, "s-x", "QR-001", appErrors.ErrNotFound},
		{"closed period", teacherPrincipal, "s-closed", "QR-001", appErrors.ErrValidation},
		{"other institution", outsider, "s-1", "QR-001", appErrors.ErrForbidden},
		{"unknown code", teacherPrincipal, "s-1", "QR-404", appErrors.ErrNotFound},
		{"empty code", teacherPrincipal, "s-1", "", appErrors.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newAttendanceFixture()
			_, err := f.svc.RegisterByCode(context.Background(), tc.principal, tc.scheduleID, RegisterByCodeRequest{StudentCode: tc.code})
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.wantErr)
			assert.Empty(t, f.repo.records)
		})
	}
}

func TestRegisterSurvivesNotifierFailure(t *testing.T) {
	f := newAttendanceFixture()
	f.notifier.err = errors.New("queue full")

	detail, err := f.svc.RegisterByCode(context.Background(), teacherPrincipal, "s-1", RegisterByCodeRequest{StudentCode: "QR-001"})
	require.NoError(t, err)
	assert.NotEmpty(t, detail.ID)
}

func TestRegisterManualStatusOverride(t *testing.T) {
	f := newAttendanceFixture()
	status := "late"
	note := "  bus delayed "

	detail, err := f.svc.RegisterManual(context.Background(), teacherPrincipal, "s-1", RegisterManualRequest{StudentID: "stu-1", Status: &status, Observation: &note})
	require.NoError(t, err)
	assert.Equal(t, models.AttendanceStatusLate, detail.Status)
	require.NotNil(t, detail.Observation)
	assert.Equal(t, "bus delayed", *detail.Observation)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.registrations.WithLabelValues(RegistrationMethodManual)))
}

func TestRegisterManualDefaultsToPresent(t *testing.T) {
	f := newAttendanceFixture()

	detail, err := f.svc.RegisterManual(context.Background(), teacherPrincipal, "s-1", RegisterManualRequest{StudentID: "stu-1"})
	require.NoError(t, err)
	assert.Equal(t, models.AttendanceStatusPresent, detail.Status)
}

func TestRegisterManualRejectsInvalidInput(t *testing.T) {
	f := newAttendanceFixture()
	bogus := "sleeping"

	_, err := f.svc.RegisterManual(context.Background(), teacherPrincipal, "s-1", RegisterManualRequest{StudentID: "stu-1", Status: &bogus})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.svc.RegisterManual(context.Background(), teacherPrincipal, "s-1", RegisterManualRequest{StudentID: "t-2"})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.svc.RegisterManual(context.Background(), teacherPrincipal, "s-1", RegisterManualRequest{StudentID: "ghost"})
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
	assert.Empty(t, f.repo.records)
}

func TestUpdateRecord(t *testing.T) {
	f := newAttendanceFixture()
	ctx := context.Background()
	created, err := f.svc.RegisterByCode(ctx, teacherPrincipal, "s-1", RegisterByCodeRequest{StudentCode: "QR-001"})
	require.NoError(t, err)

	status := "EXCUSED"
	note := "doctor's note"
	updated, err := f.svc.UpdateRecord(ctx, adminPrincipal, created.ID, UpdateAttendanceRequest{Status: &status, Observation: &note})
	require.NoError(t, err)
	assert.Equal(t, models.AttendanceStatusExcused, updated.Status)
	require.NotNil(t, updated.Observation)
	assert.Equal(t, "doctor's note", *updated.Observation)
}

func TestUpdateRecordOtherInstitutionForbidden(t *testing.T) {
	f := newAttendanceFixture()
	ctx := context.Background()
	created, err := f.svc.RegisterByCode(ctx, teacherPrincipal, "s-1", RegisterByCodeRequest{StudentCode: "QR-001"})
	require.NoError(t, err)

	status := "ABSENT"
	_, err = f.svc.UpdateRecord(ctx, outsider, created.ID, UpdateAttendanceRequest{Status: &status})
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
	assert.Equal(t, 0, f.repo.updateCalls)

	_, err = f.svc.UpdateRecord(ctx, adminPrincipal, "missing", UpdateAttendanceRequest{Status: &status})
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestStatsForSchedule(t *testing.T) {
	f := newAttendanceFixture()
	members := make([]string, 30)
	for i := range members {
		members[i] = "stu"
	}
	f.groups.members["g-1"] = members
	f.repo.counts = []models.AttendanceStatusCount{
		{Status: models.AttendanceStatusPresent, Count: 20},
		{Status: models.AttendanceStatusAbsent, Count: 3},
		{Status: models.AttendanceStatusLate, Count: 2},
		{Status: models.AttendanceStatusExcused, Count: 1},
	}

	stats, err := f.svc.StatsForSchedule(context.Background(), teacherPrincipal, "s-1")
	require.NoError(t, err)
	assert.Equal(t, 30, stats.Total)
	assert.Equal(t, 20, stats.Present)
	assert.Equal(t, 3, stats.Absent)
	assert.Equal(t, 2, stats.Late)
	assert.Equal(t, 1, stats.Excused)
	assert.Equal(t, 4, stats.Unregistered)
	assert.Equal(t, time.Date(2024, 9, 2, 0, 0, 0, 0, time.UTC), stats.Date)
}

func TestStatsForScheduleNoRecords(t *testing.T) {
	f := newAttendanceFixture()

	stats, err := f.svc.StatsForSchedule(context.Background(), teacherPrincipal, "s-1")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 2, stats.Unregistered)
}

func TestRosterUsesRequestedDay(t *testing.T) {
	f := newAttendanceFixture()
	day := time.Date(2024, 8, 30, 13, 0, 0, 0, time.UTC)

	entries, err := f.svc.Roster(context.Background(), teacherPrincipal, "s-1", &day)
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Equal(t, time.Date(2024, 8, 30, 0, 0, 0, 0, time.UTC), f.repo.lastRoster)
}

func TestExportRosterCSV(t *testing.T) {
	f := newAttendanceFixture()
	present := models.AttendanceStatusPresent
	code := "QR-001"
	f.repo.roster = []models.RosterEntry{
		{StudentID: "stu-1", FullName: "Ana", StudentCode: &code, Status: &present},
		{StudentID: "stu-2", FullName: "Budi"},
	}

	file, err := f.svc.ExportRoster(context.Background(), teacherPrincipal, "s-1", nil, export.FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, "text/csv", file.ContentType)
	assert.Equal(t, "attendance-s-1-20240902.csv", file.Filename)
	lines := strings.Split(strings.TrimSpace(string(file.Body)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "No,Student,Code,Status,Observation", lines[0])
	assert.Equal(t, "1,Ana,QR-001,PRESENT,", lines[1])
	assert.Equal(t, "2,Budi,,UNREGISTERED,", lines[2])
}
