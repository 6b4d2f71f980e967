package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openclass/registry-api/internal/models"
	appErrors "github.com/openclass/registry-api/pkg/errors"
)

type fakeTermRepo struct {
	terms       map[string]*models.Term
	names       map[string]string
	courseCount map[string]int

	activated   string
	deactivated string
	deleted     string
}

func newFakeTermRepo() *fakeTermRepo {
	return &fakeTermRepo{
		terms:       map[string]*models.Term{},
		names:       map[string]string{},
		courseCount: map[string]int{},
	}
}

func (f *fakeTermRepo) add(term *models.Term) {
	f.terms[term.ID] = term
	f.names[term.Name] = term.ID
}

func (f *fakeTermRepo) List(_ context.Context, _ models.TermFilter) ([]models.Term, int, error) {
	out := make([]models.Term, 0, len(f.terms))
	for _, t := range f.terms {
		out = append(out, *t)
	}
	return out, len(out), nil
}

func (f *fakeTermRepo) FindByID(_ context.Context, id string) (*models.Term, error) {
	if t, ok := f.terms[id]; ok {
		copied := *t
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeTermRepo) FindActive(_ context.Context) (*models.Term, error) {
	for _, t := range f.terms {
		if t.IsActive {
			copied := *t
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeTermRepo) ExistsByName(_ context.Context, name, excludeID string) (bool, error) {
	id, ok := f.names[name]
	return ok && id != excludeID, nil
}

func (f *fakeTermRepo) Create(_ context.Context, term *models.Term) error {
	if term.ID == "" {
		term.ID = "term-new"
	}
	f.add(term)
	return nil
}

func (f *fakeTermRepo) Update(_ context.Context, term *models.Term) error {
	f.terms[term.ID] = term
	return nil
}

func (f *fakeTermRepo) SetActive(_ context.Context, id string) error {
	for _, t := range f.terms {
		t.IsActive = t.ID == id
	}
	f.activated = id
	return nil
}

func (f *fakeTermRepo) Deactivate(_ context.Context, id string) error {
	if t, ok := f.terms[id]; ok {
		t.IsActive = false
	}
	f.deactivated = id
	return nil
}

func (f *fakeTermRepo) Delete(_ context.Context, id string) error {
	delete(f.terms, id)
	f.deleted = id
	return nil
}

func (f *fakeTermRepo) CountCourses(_ context.Context, id string) (int, error) {
	return f.courseCount[id], nil
}

func TestTermCreateRejectsDuplicateName(t *testing.T) {
	repo := newFakeTermRepo()
	repo.add(&models.Term{ID: "term-1", Name: "Fall 2026"})
	svc := NewTermService(repo, nil, nil)

	_, err := svc.Create(context.Background(), CreateTermRequest{Name: "Fall 2026"})
	requireErrorCode(t, err, appErrors.ErrConflict.Code)
}

func TestTermCreateActivatesWhenRequested(t *testing.T) {
	repo := newFakeTermRepo()
	repo.add(&models.Term{ID: "term-1", Name: "Fall 2026", IsActive: true})
	svc := NewTermService(repo, nil, nil)

	term, err := svc.Create(context.Background(), CreateTermRequest{Name: "Spring 2027", IsActive: true})
	require.NoError(t, err)
	require.True(t, term.IsActive)
	require.Equal(t, term.ID, repo.activated)
	require.False(t, repo.terms["term-1"].IsActive)
}

func TestTermActivationDemotesPreviousActive(t *testing.T) {
	repo := newFakeTermRepo()
	repo.add(&models.Term{ID: "term-1", Name: "Fall 2026", IsActive: true})
	repo.add(&models.Term{ID: "term-2", Name: "Spring 2027"})
	svc := NewTermService(repo, nil, nil)

	term, err := svc.Activate(context.Background(), "term-2")
	require.NoError(t, err)
	require.True(t, term.IsActive)
	require.False(t, repo.terms["term-1"].IsActive)
	require.True(t, repo.terms["term-2"].IsActive)
}

func TestTermActivateMissing(t *testing.T) {
	svc := NewTermService(newFakeTermRepo(), nil, nil)

	_, err := svc.Activate(context.Background(), "missing")
	requireErrorCode(t, err, appErrors.ErrNotFound.Code)
}

func TestTermDeactivateClosesRegistration(t *testing.T) {
	repo := newFakeTermRepo()
	repo.add(&models.Term{ID: "term-1", Name: "Fall 2026", IsActive: true})
	svc := NewTermService(repo, nil, nil)

	term, err := svc.Deactivate(context.Background(), "term-1")
	require.NoError(t, err)
	require.False(t, term.IsActive)
	require.Equal(t, "term-1", repo.deactivated)
}

func TestTermDeleteGuards(t *testing.T) {
	repo := newFakeTermRepo()
	repo.add(&models.Term{ID: "term-1", Name: "Fall 2026", IsActive: true})
	repo.add(&models.Term{ID: "term-2", Name: "Spring 2027"})
	repo.courseCount["term-2"] = 3
	repo.add(&models.Term{ID: "term-3", Name: "Summer 2027"})
	svc := NewTermService(repo, nil, nil)

	err := svc.Delete(context.Background(), "term-1")
	requireErrorCode(t, err, appErrors.ErrPreconditionFailed.Code)

	err = svc.Delete(context.Background(), "term-2")
	requireErrorCode(t, err, appErrors.ErrPreconditionFailed.Code)

	require.NoError(t, svc.Delete(context.Background(), "term-3"))
	require.Equal(t, "term-3", repo.deleted)
}

func TestTermUpdateRenames(t *testing.T) {
	repo := newFakeTermRepo()
	repo.add(&models.Term{ID: "term-1", Name: "Fall 2026"})
	svc := NewTermService(repo, nil, nil)

	term, err := svc.Update(context.Background(), "term-1", UpdateTermRequest{Name: "Fall 2026 (revised)"})
	require.NoError(t, err)
	require.Equal(t, "Fall 2026 (revised)", term.Name)
}

func TestTermGetActiveWhenNoneActive(t *testing.T) {
	svc := NewTermService(newFakeTermRepo(), nil, nil)

	_, err := svc.GetActive(context.Background())
	requireErrorCode(t, err, appErrors.ErrNotFound.Code)
}
