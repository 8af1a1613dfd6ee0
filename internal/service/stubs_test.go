package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/noah-isme/sma-attendance-api/internal/models"
	appErrors "github.com/noah-isme/sma-attendance-api/pkg/errors"
)

var (
	adminPrincipal   = models.Principal{UserID: "admin-1", Role: models.RoleAdmin, InstitutionID: "inst-1"}
	teacherPrincipal = models.Principal{UserID: "t-1", Role: models.RoleTeacher, InstitutionID: "inst-1"}
	outsider         = models.Principal{UserID: "admin-9", Role: models.RoleAdmin, InstitutionID: "inst-9"}
)

type stubScheduleRepo struct {
	mu         sync.Mutex
	items      map[string]models.Schedule
	attendance map[string]int
	nextID     int
	listCalls  int
	writeErr   error
	deleted    []string
}

func newStubScheduleRepo() *stubScheduleRepo {
	return &stubScheduleRepo{items: map[string]models.Schedule{}, attendance: map[string]int{}}
}

func (r *stubScheduleRepo) List(ctx context.Context, filter models.ScheduleFilter) ([]models.ScheduleDetail, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listCalls++
	var out []models.ScheduleDetail
	for _, s := range r.items {
		if s.InstitutionID == filter.InstitutionID {
			out = append(out, models.ScheduleDetail{Schedule: s})
		}
	}
	return out, len(out), nil
}

func (r *stubScheduleRepo) FindByID(ctx context.Context, id string) (*models.Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.items[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &s, nil
}

func (r *stubScheduleRepo) FindDetailByID(ctx context.Context, id string) (*models.ScheduleDetail, error) {
	s, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.ScheduleDetail{Schedule: *s, PeriodName: "2024/2025", PeriodActive: true, GroupName: "X IPA 1", SubjectName: "Matematika"}, nil
}

func (r *stubScheduleRepo) sameDay(schedule *models.Schedule) []models.Schedule {
	var out []models.Schedule
	for id, s := range r.items {
		if id == schedule.ID || s.DayOfWeek != schedule.DayOfWeek {
			continue
		}
		sameTeacher := schedule.TeacherID != nil && s.TeacherID != nil && *s.TeacherID == *schedule.TeacherID
		if s.GroupID == schedule.GroupID || sameTeacher {
			out = append(out, s)
		}
	}
	return out
}

func (r *stubScheduleRepo) CreateChecked(ctx context.Context, schedule *models.Schedule, check func(existing []models.Schedule) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writeErr != nil {
		return r.writeErr
	}
	r.nextID++
	schedule.ID = fmt.Sprintf("s-%d", r.nextID)
	if err := check(r.sameDay(schedule)); err != nil {
		return err
	}
	r.items[schedule.ID] = *schedule
	return nil
}

func (r *stubScheduleRepo) UpdateChecked(ctx context.Context, schedule *models.Schedule, check func(existing []models.Schedule) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writeErr != nil {
		return r.writeErr
	}
	if err := check(r.sameDay(schedule)); err != nil {
		return err
	}
	r.items[schedule.ID] = *schedule
	return nil
}

func (r *stubScheduleRepo) CountAttendance(ctx context.Context, id string) (int, error) {
	return r.attendance[id], nil
}

func (r *stubScheduleRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, id)
	r.deleted = append(r.deleted, id)
	return nil
}

type stubPeriods map[string]models.Period

func (s stubPeriods) FindByID(ctx context.Context, institutionID, id string) (*models.Period, error) {
	p, ok := s[id]
	if !ok || p.InstitutionID != institutionID {
		return nil, sql.ErrNoRows
	}
	return &p, nil
}

type stubGroups struct {
	groups  map[string]models.Group
	members map[string][]string
}

func (s *stubGroups) FindByID(ctx context.Context, institutionID, id string) (*models.Group, error) {
	g, ok := s.groups[id]
	if !ok || g.InstitutionID != institutionID {
		return nil, sql.ErrNoRows
	}
	return &g, nil
}

func (s *stubGroups) IsMember(ctx context.Context, studentID, groupID, periodID string) (bool, error) {
	g, ok := s.groups[groupID]
	if !ok || g.PeriodID != periodID {
		return false, nil
	}
	for _, id := range s.members[groupID] {
		if id == studentID {
			return true, nil
		}
	}
	return false, nil
}

func (s *stubGroups) CountMembers(ctx context.Context, groupID string) (int, error) {
	return len(s.members[groupID]), nil
}

type stubSubjects map[string]models.Subject

func (s stubSubjects) FindByID(ctx context.Context, institutionID, id string) (*models.Subject, error) {
	sub, ok := s[id]
	if !ok || sub.InstitutionID != institutionID {
		return nil, sql.ErrNoRows
	}
	return &sub, nil
}

type stubUsers struct {
	users       map[string]models.User
	memberships map[string]bool
}

func (s *stubUsers) FindByID(ctx context.Context, id string) (*models.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &u, nil
}

func (s *stubUsers) FindStudentByCode(ctx context.Context, institutionID, code string) (*models.User, error) {
	for _, u := range s.users {
		if u.Role == models.RoleStudent && u.InstitutionID == institutionID && u.StudentCode != nil && *u.StudentCode == code {
			return &u, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *stubUsers) HasActiveMembership(ctx context.Context, userID, institutionID string, role models.UserRole) (bool, error) {
	return s.memberships[userID+"|"+institutionID+"|"+string(role)], nil
}

type stubCacheRepo struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newStubCacheRepo() *stubCacheRepo {
	return &stubCacheRepo{entries: map[string][]byte{}}
}

func (c *stubCacheRepo) Get(ctx context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (c *stubCacheRepo) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.entries[key] = raw
	return nil
}

func (c *stubCacheRepo) DeleteByPattern(ctx context.Context, pattern string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
	return nil
}

func newFixtureGroups() *stubGroups {
	return &stubGroups{
		groups: map[string]models.Group{
			"g-1":   {ID: "g-1", InstitutionID: "inst-1", PeriodID: "p-1", Name: "X IPA 1"},
			"g-2":   {ID: "g-2", InstitutionID: "inst-1", PeriodID: "p-1", Name: "X IPA 2"},
			"g-old": {ID: "g-old", InstitutionID: "inst-1", PeriodID: "p-0", Name: "IX A"},
		},
		members: map[string][]string{
			"g-1": {"stu-1", "stu-2"},
		},
	}
}

func newFixtureUsers() *stubUsers {
	code := "QR-001"
	code2 := "QR-002"
	return &stubUsers{
		users: map[string]models.User{
			"t-1":     {ID: "t-1", InstitutionID: "inst-1", FullName: "Budi", Role: models.RoleTeacher, Active: true},
			"t-2":     {ID: "t-2", InstitutionID: "inst-1", FullName: "Sari", Role: models.RoleTeacher, Active: true},
			"t-away":  {ID: "t-away", InstitutionID: "inst-2", FullName: "Dewi", Role: models.RoleTeacher, Active: true},
			"stu-1":   {ID: "stu-1", InstitutionID: "inst-1", FullName: "Ana", Role: models.RoleStudent, StudentCode: &code, Active: true},
			"stu-out": {ID: "stu-out", InstitutionID: "inst-1", FullName: "Rudi", Role: models.RoleStudent, StudentCode: &code2, Active: true},
		},
		memberships: map[string]bool{
			"t-1|inst-1|TEACHER": true,
			"t-2|inst-1|TEACHER": true,
		},
	}
}
