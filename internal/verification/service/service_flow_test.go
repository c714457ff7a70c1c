package service_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustmint/internal/verification/models"
	"trustmint/internal/verification/service"
	"trustmint/internal/verification/store/applicant"
	"trustmint/internal/verification/store/document"
	"trustmint/internal/verification/store/user"
	id "trustmint/pkg/domain"
	"trustmint/pkg/platform/audit"
	"trustmint/pkg/platform/audit/publishers/compliance"
	auditmemory "trustmint/pkg/platform/audit/store/memory"
	"trustmint/pkg/testutil"
)

// fakeProvider hands out sequential references.
type fakeProvider struct {
	mu         sync.Mutex
	applicants int
	checks     int
	uploads    []models.DocumentType
}

func (p *fakeProvider) CreateApplicant(_ context.Context, _, _ string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.applicants++
	return fmt.Sprintf("app-%d", p.applicants), nil
}

func (p *fakeProvider) UploadDocument(_ context.Context, _ string, _ []byte, docType models.DocumentType) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.uploads = append(p.uploads, docType)
	return nil
}

func (p *fakeProvider) CreateCheck(_ context.Context, _ string, _ []string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checks++
	return fmt.Sprintf("chk-%d", p.checks), nil
}

type staticFetcher struct{}

func (staticFetcher) FetchBytes(context.Context, string) ([]byte, error) {
	return []byte("image"), nil
}

type pipeline struct {
	svc      *service.Service
	docs     *document.InMemoryStore
	users    *user.InMemoryStore
	auditLog *auditmemory.InMemoryStore
	provider *fakeProvider
	userID   id.UserID
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	p := &pipeline{
		docs:     document.NewInMemoryStore(),
		users:    user.NewInMemoryStore(),
		auditLog: auditmemory.NewInMemoryStore(),
		provider: &fakeProvider{},
		userID:   id.NewUserID(),
	}
	svc, err := service.New(p.docs, p.users, p.provider, staticFetcher{},
		service.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		service.WithApplicantStore(applicant.NewInMemoryStore()),
		service.WithAuditPublisher(compliance.New(p.auditLog)),
	)
	require.NoError(t, err)
	p.svc = svc
	require.NoError(t, p.users.Save(context.Background(), &models.User{ID: p.userID, FirstName: "Ada", LastName: "Lovelace"}))
	return p
}

// submit returns the check reference of a freshly submitted document.
func (p *pipeline) submit(t *testing.T, docType models.DocumentType) string {
	t.Helper()
	sub, err := p.svc.SubmitVerification(context.Background(), p.userID, id.NewDocumentID(), docType, "https://files.example/"+string(docType))
	require.NoError(t, err)
	return sub.CheckReference
}

func (p *pipeline) callback(t *testing.T, checkRef, result string) *models.Ack {
	t.Helper()
	ack, err := p.svc.HandleCallback(context.Background(), []byte(fmt.Sprintf(`{"check_reference":%q,"result":%q}`, checkRef, result)))
	require.NoError(t, err)
	return ack
}

func (p *pipeline) trust(t *testing.T) (int, models.TrustStatus) {
	t.Helper()
	u, err := p.users.FindByID(context.Background(), p.userID)
	require.NoError(t, err)
	return u.TrustLevel, u.TrustStatus
}

func TestTrustLevelScenarios(t *testing.T) {
	cases := []struct {
		name       string
		verified   []models.DocumentType
		wantLevel  int
		wantStatus models.TrustStatus
	}{
		{"identity card", []models.DocumentType{models.DocumentIdentityCard}, 2, models.TrustVerified},
		{"identity card and utility bill", []models.DocumentType{models.DocumentIdentityCard, models.DocumentUtilityBill}, 3, models.TrustVerified},
		{"identity card, utility bill and selfie", []models.DocumentType{models.DocumentIdentityCard, models.DocumentUtilityBill, models.DocumentSelfie}, 4, models.TrustVerified},
		{"utility bill alone", []models.DocumentType{models.DocumentUtilityBill}, 3, models.TrustVerified},
		{"selfie alone", []models.DocumentType{models.DocumentSelfie}, 0, models.TrustInProgress},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := newPipeline(t)
			for _, docType := range tc.verified {
				p.callback(t, p.submit(t, docType), "clear")
			}
			level, status := p.trust(t)
			assert.Equal(t, tc.wantLevel, level)
			assert.Equal(t, tc.wantStatus, status)
		})
	}
}

func TestDuplicateCallbacksMutateOnce(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	checkRef := p.submit(t, models.DocumentPassport)

	first := p.callback(t, checkRef, "clear")
	require.Equal(t, models.AckApplied, first.Outcome)

	doc, err := p.docs.FindByCheckRef(ctx, checkRef)
	require.NoError(t, err)
	snapshot := *doc

	for range 3 {
		ack := p.callback(t, checkRef, "clear")
		assert.Equal(t, models.AckDuplicate, ack.Outcome)
	}
	// A contradicting late result is a duplicate too.
	assert.Equal(t, models.AckDuplicate, p.callback(t, checkRef, "consider").Outcome)

	doc, err = p.docs.FindByCheckRef(ctx, checkRef)
	require.NoError(t, err)
	assert.Equal(t, snapshot, *doc)

	completed, err := p.auditLog.ListByAction(ctx, audit.EventVerificationCompleted)
	require.NoError(t, err)
	assert.Len(t, completed, 1)
	raised, err := p.auditLog.ListByAction(ctx, audit.EventTrustLevelRaised)
	require.NoError(t, err)
	assert.Len(t, raised, 1)
}

func TestTrustLevelNeverDecreases(t *testing.T) {
	p := newPipeline(t)
	sequence := []struct {
		docType models.DocumentType
		result  string
	}{
		{models.DocumentSelfie, "clear"},
		{models.DocumentPassport, "clear"},
		{models.DocumentUtilityBill, "consider"},
		{models.DocumentBankStatement, "clear"},
		{models.DocumentIdentityCard, "consider"},
		{models.DocumentPassport, "clear"},
	}

	previous := 0
	for _, step := range sequence {
		p.callback(t, p.submit(t, step.docType), step.result)
		level, _ := p.trust(t)
		assert.GreaterOrEqual(t, level, previous, "after %s %s", step.docType, step.result)
		previous = level
	}
	assert.Equal(t, 4, previous)
}

func TestConcurrentCallbacksSameCheck(t *testing.T) {
	p := newPipeline(t)
	checkRef := p.submit(t, models.DocumentPassport)

	const deliveries = 20
	outcomes := make(chan models.AckOutcome, deliveries)
	var wg sync.WaitGroup
	for range deliveries {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ack, err := p.svc.HandleCallback(context.Background(), []byte(fmt.Sprintf(`{"check_reference":%q,"result":"clear"}`, checkRef)))
			if err == nil {
				outcomes <- ack.Outcome
			}
		}()
	}
	wg.Wait()
	close(outcomes)

	counts := map[models.AckOutcome]int{}
	for o := range outcomes {
		counts[o]++
	}
	assert.Equal(t, 1, counts[models.AckApplied])
	assert.Equal(t, deliveries-1, counts[models.AckDuplicate])
}

func TestConcurrentCallbacksSameUser(t *testing.T) {
	p := newPipeline(t)
	refs := []string{
		p.submit(t, models.DocumentPassport),
		p.submit(t, models.DocumentUtilityBill),
		p.submit(t, models.DocumentSelfie),
	}

	var wg sync.WaitGroup
	for _, ref := range refs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = p.svc.HandleCallback(context.Background(), []byte(fmt.Sprintf(`{"check_reference":%q,"result":"clear"}`, ref)))
		}()
	}
	wg.Wait()

	level, status := p.trust(t)
	assert.Equal(t, 4, level)
	assert.Equal(t, models.TrustVerified, status)
}

func TestSubmissionReusesApplicant(t *testing.T) {
	p := newPipeline(t)
	p.submit(t, models.DocumentPassport)
	p.submit(t, models.DocumentSelfie)

	assert.Equal(t, 1, p.provider.applicants)
	assert.Equal(t, 2, p.provider.checks)
	assert.Equal(t, []models.DocumentType{models.DocumentPassport, models.DocumentSelfie}, p.provider.uploads)

	_, status := p.trust(t)
	assert.Equal(t, models.TrustInProgress, status)
}

func TestUnknownReferenceIsAcknowledged(t *testing.T) {
	p := newPipeline(t)
	ack, err := p.svc.HandleCallback(testutil.FixedContext(time.Now()), []byte(`{"check_reference":"chk-missing","result":"clear"}`))
	require.Error(t, err)
	require.NotNil(t, ack)
	assert.Equal(t, models.AckUnknownReference, ack.Outcome)
}

func TestUnrecognizedResultLeavesDocumentOpen(t *testing.T) {
	p := newPipeline(t)
	checkRef := p.submit(t, models.DocumentPassport)

	ack := p.callback(t, checkRef, "caution")
	assert.Equal(t, models.AckPending, ack.Outcome)
	doc, err := p.docs.FindByCheckRef(context.Background(), checkRef)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentSubmitted, doc.Status)

	ack = p.callback(t, checkRef, "clear")
	assert.Equal(t, models.AckApplied, ack.Outcome)
	level, _ := p.trust(t)
	assert.Equal(t, 2, level)
}
