package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"trustmint/internal/verification/models"
	"trustmint/internal/verification/provider"
	"trustmint/internal/verification/service/mocks"
	id "trustmint/pkg/domain"
	dErrors "trustmint/pkg/domain-errors"
	"trustmint/pkg/platform/audit"
	"trustmint/pkg/platform/sentinel"
	"trustmint/pkg/testutil"
)

// =============================================================================
// Verification Service Test Suite
// =============================================================================
// Justification for unit tests: the service sequences provider calls and
// decides which store writes happen for every callback outcome. Mocks pin the
// exact calls made, including the ones that must not happen.

type VerificationServiceSuite struct {
	suite.Suite
	ctrl          *gomock.Controller
	mockDocs      *mocks.MockDocumentStore
	mockUsers     *mocks.MockUserStore
	mockApplicant *mocks.MockApplicantStore
	mockProvider  *mocks.MockProvider
	mockFetcher   *mocks.MockFetcher
	mockAudit     *mocks.MockAuditPublisher
	service       *Service
	ctx           context.Context
	now           time.Time
	userID        id.UserID
	documentID    id.DocumentID
}

func TestVerificationServiceSuite(t *testing.T) {
	suite.Run(t, new(VerificationServiceSuite))
}

func (s *VerificationServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.mockDocs = mocks.NewMockDocumentStore(s.ctrl)
	s.mockUsers = mocks.NewMockUserStore(s.ctrl)
	s.mockApplicant = mocks.NewMockApplicantStore(s.ctrl)
	s.mockProvider = mocks.NewMockProvider(s.ctrl)
	s.mockFetcher = mocks.NewMockFetcher(s.ctrl)
	s.mockAudit = mocks.NewMockAuditPublisher(s.ctrl)
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.ctx = testutil.FixedContext(s.now)
	s.userID = id.NewUserID()
	s.documentID = id.NewDocumentID()

	var err error
	s.service, err = New(s.mockDocs, s.mockUsers, s.mockProvider, s.mockFetcher,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithAuditPublisher(s.mockAudit),
		WithApplicantStore(s.mockApplicant),
	)
	s.Require().NoError(err)
}

func (s *VerificationServiceSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *VerificationServiceSuite) user(first, last string, level int) *models.User {
	return &models.User{
		ID:          s.userID,
		FirstName:   first,
		LastName:    last,
		TrustLevel:  level,
		TrustStatus: models.TrustUnverified,
	}
}

func (s *VerificationServiceSuite) document(status models.DocumentStatus) *models.Document {
	return &models.Document{
		ID:       s.documentID,
		UserID:   s.userID,
		Type:     models.DocumentPassport,
		Status:   status,
		CheckRef: "chk-1",
	}
}

func (s *VerificationServiceSuite) TestNew() {
	s.Run("nil document store returns error", func() {
		_, err := New(nil, s.mockUsers, s.mockProvider, s.mockFetcher)
		s.ErrorContains(err, "document store is required")
	})

	s.Run("nil user store returns error", func() {
		_, err := New(s.mockDocs, nil, s.mockProvider, s.mockFetcher)
		s.ErrorContains(err, "user store is required")
	})

	s.Run("nil provider returns error", func() {
		_, err := New(s.mockDocs, s.mockUsers, nil, s.mockFetcher)
		s.ErrorContains(err, "provider is required")
	})

	s.Run("nil fetcher returns error", func() {
		_, err := New(s.mockDocs, s.mockUsers, s.mockProvider, nil)
		s.ErrorContains(err, "fetcher is required")
	})
}

func (s *VerificationServiceSuite) TestSubmitVerification_Success() {
	s.mockUsers.EXPECT().FindByID(gomock.Any(), s.userID).Return(s.user("Ada", "Lovelace", 0), nil)
	s.mockDocs.EXPECT().FindByID(gomock.Any(), s.documentID).Return(nil, sentinel.ErrNotFound)
	s.mockDocs.EXPECT().Create(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, doc *models.Document) error {
			s.Equal(models.DocumentSubmitted, doc.Status)
			s.Equal(models.DocumentPassport, doc.Type)
			s.Equal("https://files.example/passport.jpg", doc.FileURL)
			s.Equal(s.now, doc.CreatedAt)
			return nil
		})
	s.mockApplicant.EXPECT().Get(gomock.Any(), s.userID).Return("", sentinel.ErrNotFound)
	s.mockProvider.EXPECT().CreateApplicant(gomock.Any(), "Ada", "Lovelace").Return("app-1", nil)
	s.mockApplicant.EXPECT().Put(gomock.Any(), s.userID, "app-1").Return(nil)
	s.mockFetcher.EXPECT().FetchBytes(gomock.Any(), "https://files.example/passport.jpg").Return([]byte("jpeg"), nil)
	s.mockProvider.EXPECT().UploadDocument(gomock.Any(), "app-1", []byte("jpeg"), models.DocumentPassport).Return(nil)
	s.mockProvider.EXPECT().CreateCheck(gomock.Any(), "app-1", []string{provider.ReportDocument}).Return("chk-1", nil)
	s.mockDocs.EXPECT().AttachReferences(gomock.Any(), s.documentID, "app-1", "chk-1", s.now).Return(nil)
	s.mockUsers.EXPECT().MarkInProgress(gomock.Any(), s.userID, s.now).Return(true, nil)
	s.mockAudit.EXPECT().Emit(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, event audit.Event) error {
			s.Equal(string(audit.EventVerificationSubmitted), event.Action)
			s.Equal(s.userID, event.UserID)
			s.Equal("chk-1", event.Reference)
			return nil
		})

	sub, err := s.service.SubmitVerification(s.ctx, s.userID, s.documentID, models.DocumentPassport, "https://files.example/passport.jpg")
	s.Require().NoError(err)
	s.Equal("chk-1", sub.CheckReference)
	s.Equal("app-1", sub.ApplicantRef)
}

func (s *VerificationServiceSuite) TestSubmitVerification_PlaceholderName() {
	s.mockUsers.EXPECT().FindByID(gomock.Any(), s.userID).Return(nil, sentinel.ErrNotFound)
	s.mockUsers.EXPECT().Save(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, u *models.User) error {
			s.Equal(s.userID, u.ID)
			s.Equal(models.TrustUnverified, u.TrustStatus)
			return nil
		})
	s.mockDocs.EXPECT().FindByID(gomock.Any(), s.documentID).Return(nil, sentinel.ErrNotFound)
	s.mockDocs.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)
	s.mockApplicant.EXPECT().Get(gomock.Any(), s.userID).Return("", sentinel.ErrNotFound)
	s.mockProvider.EXPECT().CreateApplicant(gomock.Any(), "Unknown", "Applicant").Return("app-2", nil)
	s.mockApplicant.EXPECT().Put(gomock.Any(), s.userID, "app-2").Return(errors.New("redis down"))
	s.mockFetcher.EXPECT().FetchBytes(gomock.Any(), gomock.Any()).Return([]byte("jpeg"), nil)
	s.mockProvider.EXPECT().UploadDocument(gomock.Any(), "app-2", gomock.Any(), models.DocumentPassport).Return(nil)
	s.mockProvider.EXPECT().CreateCheck(gomock.Any(), "app-2", gomock.Any()).Return("chk-2", nil)
	s.mockDocs.EXPECT().AttachReferences(gomock.Any(), s.documentID, "app-2", "chk-2", gomock.Any()).Return(nil)
	s.mockUsers.EXPECT().MarkInProgress(gomock.Any(), s.userID, gomock.Any()).Return(true, nil)
	s.mockAudit.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil)

	sub, err := s.service.SubmitVerification(s.ctx, s.userID, s.documentID, models.DocumentPassport, "https://files.example/p.jpg")
	s.Require().NoError(err)
	s.Equal("chk-2", sub.CheckReference)
}

func (s *VerificationServiceSuite) TestSubmitVerification_ReusesCachedApplicant() {
	s.mockUsers.EXPECT().FindByID(gomock.Any(), s.userID).Return(s.user("Ada", "Lovelace", 0), nil)
	s.mockDocs.EXPECT().FindByID(gomock.Any(), s.documentID).Return(s.document(models.DocumentSubmitted), nil)
	s.mockApplicant.EXPECT().Get(gomock.Any(), s.userID).Return("app-9", nil)
	s.mockFetcher.EXPECT().FetchBytes(gomock.Any(), gomock.Any()).Return([]byte("jpeg"), nil)
	s.mockProvider.EXPECT().UploadDocument(gomock.Any(), "app-9", gomock.Any(), models.DocumentPassport).Return(nil)
	s.mockProvider.EXPECT().CreateCheck(gomock.Any(), "app-9", gomock.Any()).Return("chk-3", nil)
	s.mockDocs.EXPECT().AttachReferences(gomock.Any(), s.documentID, "app-9", "chk-3", gomock.Any()).Return(nil)
	s.mockUsers.EXPECT().MarkInProgress(gomock.Any(), s.userID, gomock.Any()).Return(false, nil)
	s.mockAudit.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil)

	sub, err := s.service.SubmitVerification(s.ctx, s.userID, s.documentID, models.DocumentPassport, "https://files.example/p.jpg")
	s.Require().NoError(err)
	s.Equal("app-9", sub.ApplicantRef)
}

func (s *VerificationServiceSuite) TestSubmitVerification_ProviderFailures() {
	s.Run("check creation failure leaves the document submitted", func() {
		s.mockUsers.EXPECT().FindByID(gomock.Any(), s.userID).Return(s.user("Ada", "Lovelace", 0), nil)
		s.mockDocs.EXPECT().FindByID(gomock.Any(), s.documentID).Return(s.document(models.DocumentSubmitted), nil)
		s.mockApplicant.EXPECT().Get(gomock.Any(), s.userID).Return("app-1", nil)
		s.mockFetcher.EXPECT().FetchBytes(gomock.Any(), gomock.Any()).Return([]byte("jpeg"), nil)
		s.mockProvider.EXPECT().UploadDocument(gomock.Any(), "app-1", gomock.Any(), gomock.Any()).Return(nil)
		s.mockProvider.EXPECT().CreateCheck(gomock.Any(), "app-1", gomock.Any()).
			Return("", provider.NewError(provider.ErrorProviderOutage, "create_check", "bad gateway", nil))

		_, err := s.service.SubmitVerification(s.ctx, s.userID, s.documentID, models.DocumentPassport, "https://files.example/p.jpg")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeProvider))
		s.True(provider.IsRetryable(err))
	})

	s.Run("fetch failure is a provider error", func() {
		s.mockUsers.EXPECT().FindByID(gomock.Any(), s.userID).Return(s.user("Ada", "Lovelace", 0), nil)
		s.mockDocs.EXPECT().FindByID(gomock.Any(), s.documentID).Return(s.document(models.DocumentSubmitted), nil)
		s.mockApplicant.EXPECT().Get(gomock.Any(), s.userID).Return("app-1", nil).AnyTimes()
		s.mockFetcher.EXPECT().FetchBytes(gomock.Any(), gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeFetch, "document download failed"))

		_, err := s.service.SubmitVerification(s.ctx, s.userID, s.documentID, models.DocumentPassport, "https://files.example/p.jpg")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeProvider))
		s.True(dErrors.HasCode(err, dErrors.CodeFetch))
	})
}

func (s *VerificationServiceSuite) TestSubmitVerification_Rejections() {
	s.Run("missing file url", func() {
		_, err := s.service.SubmitVerification(s.ctx, s.userID, s.documentID, models.DocumentPassport, " ")
		s.True(dErrors.HasCode(err, dErrors.CodeConfiguration))
	})

	s.Run("unknown document type", func() {
		_, err := s.service.SubmitVerification(s.ctx, s.userID, s.documentID, models.DocumentType("drivers_licence"), "https://x")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("completed document", func() {
		s.mockUsers.EXPECT().FindByID(gomock.Any(), s.userID).Return(s.user("Ada", "Lovelace", 2), nil)
		s.mockDocs.EXPECT().FindByID(gomock.Any(), s.documentID).Return(s.document(models.DocumentVerified), nil)

		_, err := s.service.SubmitVerification(s.ctx, s.userID, s.documentID, models.DocumentPassport, "https://x")
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})
}

func (s *VerificationServiceSuite) TestHandleCallback_Malformed() {
	_, err := s.service.HandleCallback(s.ctx, []byte(`{"result":"clear"}`))
	s.True(dErrors.HasCode(err, dErrors.CodeMalformedPayload))

	_, err = s.service.HandleCallback(s.ctx, []byte(`not json`))
	s.True(dErrors.HasCode(err, dErrors.CodeMalformedPayload))
}

func (s *VerificationServiceSuite) TestHandleCallback_Pending() {
	ack, err := s.service.HandleCallback(s.ctx, []byte(`{"check_reference":"chk-1","event":"check.started"}`))
	s.Require().NoError(err)
	s.Equal(models.AckPending, ack.Outcome)
}

func (s *VerificationServiceSuite) TestHandleCallback_UnrecognizedResultChangesNothing() {
	ack, err := s.service.HandleCallback(s.ctx, []byte(`{"check_reference":"chk_1","result":"suspected"}`))
	s.Require().NoError(err)
	s.Equal(models.AckPending, ack.Outcome)
	s.Equal("chk_1", ack.CheckReference)
}

func (s *VerificationServiceSuite) TestHandleCallback_UnknownReference() {
	s.mockDocs.EXPECT().FindByCheckRef(gomock.Any(), "chk-404").Return(nil, sentinel.ErrNotFound)

	ack, err := s.service.HandleCallback(s.ctx, []byte(`{"check_reference":"chk-404","result":"clear"}`))
	s.True(dErrors.HasCode(err, dErrors.CodeUnknownReference))
	s.Require().NotNil(ack)
	s.Equal(models.AckUnknownReference, ack.Outcome)
	s.Equal("chk-404", ack.CheckReference)
}

func (s *VerificationServiceSuite) TestHandleCallback_UnknownReferenceLogsResubmitHint() {
	var logs bytes.Buffer
	svc, err := New(s.mockDocs, s.mockUsers, s.mockProvider, s.mockFetcher,
		WithLogger(slog.New(slog.NewJSONHandler(&logs, nil))),
	)
	s.Require().NoError(err)
	s.mockDocs.EXPECT().FindByCheckRef(gomock.Any(), "chk-early").Return(nil, sentinel.ErrNotFound)

	_, err = svc.HandleCallback(s.ctx, []byte(`{"check_reference":"chk-early","result":"clear"}`))
	s.True(dErrors.HasCode(err, dErrors.CodeUnknownReference))
	s.Contains(logs.String(), `"level":"WARN"`)
	s.Contains(logs.String(), `"check_reference":"chk-early"`)
	s.Contains(logs.String(), "resubmit the document")
}

func (s *VerificationServiceSuite) TestHandleCallback_UnrecognizedResultIsWarned() {
	var logs bytes.Buffer
	svc, err := New(s.mockDocs, s.mockUsers, s.mockProvider, s.mockFetcher,
		WithLogger(slog.New(slog.NewJSONHandler(&logs, nil))),
	)
	s.Require().NoError(err)

	ack, err := svc.HandleCallback(s.ctx, []byte(`{"check_reference":"chk_1","result":"suspected"}`))
	s.Require().NoError(err)
	s.Equal(models.AckPending, ack.Outcome)
	s.Contains(logs.String(), `"level":"WARN"`)
	s.Contains(logs.String(), `"result":"suspected"`)
}

func (s *VerificationServiceSuite) TestHandleCallback_DuplicateTerminal() {
	s.mockDocs.EXPECT().FindByCheckRef(gomock.Any(), "chk-1").Return(s.document(models.DocumentVerified), nil)

	ack, err := s.service.HandleCallback(s.ctx, []byte(`{"check_reference":"chk-1","result":"clear"}`))
	s.Require().NoError(err)
	s.Equal(models.AckDuplicate, ack.Outcome)
	s.Nil(ack.TrustLevel)
}

func (s *VerificationServiceSuite) TestHandleCallback_LostRace() {
	s.mockDocs.EXPECT().FindByCheckRef(gomock.Any(), "chk-1").Return(s.document(models.DocumentSubmitted), nil)
	s.mockDocs.EXPECT().Transition(gomock.Any(), s.documentID, models.DocumentVerified, s.now).Return(false, nil)

	ack, err := s.service.HandleCallback(s.ctx, []byte(`{"check_reference":"chk-1","result":"clear"}`))
	s.Require().NoError(err)
	s.Equal(models.AckDuplicate, ack.Outcome)
}

func (s *VerificationServiceSuite) TestHandleCallback_AppliedRaisesTrust() {
	s.mockDocs.EXPECT().FindByCheckRef(gomock.Any(), "chk-1").Return(s.document(models.DocumentSubmitted), nil)
	s.mockDocs.EXPECT().Transition(gomock.Any(), s.documentID, models.DocumentVerified, s.now).Return(true, nil)
	s.mockDocs.EXPECT().ListVerifiedTypes(gomock.Any(), s.userID).Return([]models.DocumentType{models.DocumentPassport}, nil)
	s.mockUsers.EXPECT().FindByID(gomock.Any(), s.userID).Return(s.user("Ada", "Lovelace", 0), nil)
	s.mockUsers.EXPECT().RaiseTrust(gomock.Any(), s.userID, 2, models.TrustVerified, s.now).Return(true, nil)
	gomock.InOrder(
		s.mockAudit.EXPECT().Emit(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, event audit.Event) error {
				s.Equal(string(audit.EventVerificationCompleted), event.Action)
				s.Equal(string(models.DocumentVerified), event.Decision)
				return nil
			}),
		s.mockAudit.EXPECT().Emit(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, event audit.Event) error {
				s.Equal(string(audit.EventTrustLevelRaised), event.Action)
				s.Equal("2", event.Decision)
				return nil
			}),
	)

	ack, err := s.service.HandleCallback(s.ctx, []byte(`{"check_reference":"chk-1","result":"clear"}`))
	s.Require().NoError(err)
	s.Equal(models.AckApplied, ack.Outcome)
	s.Equal(s.documentID.String(), ack.DocumentID)
	s.Require().NotNil(ack.TrustLevel)
	s.Equal(2, *ack.TrustLevel)
}

func (s *VerificationServiceSuite) TestHandleCallback_RejectedKeepsTrust() {
	s.mockDocs.EXPECT().FindByCheckRef(gomock.Any(), "chk-1").Return(s.document(models.DocumentSubmitted), nil)
	s.mockDocs.EXPECT().Transition(gomock.Any(), s.documentID, models.DocumentRejected, s.now).Return(true, nil)
	s.mockDocs.EXPECT().ListVerifiedTypes(gomock.Any(), s.userID).Return(nil, nil)
	s.mockUsers.EXPECT().FindByID(gomock.Any(), s.userID).Return(s.user("Ada", "Lovelace", 3), nil)
	s.mockAudit.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil)

	ack, err := s.service.HandleCallback(s.ctx, []byte(`{"check_reference":"chk-1","result":"consider"}`))
	s.Require().NoError(err)
	s.Equal(models.AckApplied, ack.Outcome)
	s.Require().NotNil(ack.TrustLevel)
	s.Equal(3, *ack.TrustLevel)
}

func (s *VerificationServiceSuite) TestHandleCallback_RecomputeFailureStillAcknowledged() {
	s.mockDocs.EXPECT().FindByCheckRef(gomock.Any(), "chk-1").Return(s.document(models.DocumentSubmitted), nil)
	s.mockDocs.EXPECT().Transition(gomock.Any(), s.documentID, models.DocumentVerified, s.now).Return(true, nil)
	s.mockAudit.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil)
	s.mockDocs.EXPECT().ListVerifiedTypes(gomock.Any(), s.userID).Return(nil, errors.New("connection reset"))

	ack, err := s.service.HandleCallback(s.ctx, []byte(`{"check_reference":"chk-1","result":"clear"}`))
	s.Require().NoError(err)
	s.Equal(models.AckApplied, ack.Outcome)
	s.Nil(ack.TrustLevel)
}

func (s *VerificationServiceSuite) TestHandleCallback_StoreFailure() {
	s.mockDocs.EXPECT().FindByCheckRef(gomock.Any(), "chk-1").Return(nil, errors.New("connection reset"))

	_, err := s.service.HandleCallback(s.ctx, []byte(`{"check_reference":"chk-1","result":"clear"}`))
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
}

func (s *VerificationServiceSuite) TestRecomputeTrust_ConcurrentRaiseWins() {
	s.mockDocs.EXPECT().ListVerifiedTypes(gomock.Any(), s.userID).
		Return([]models.DocumentType{models.DocumentPassport}, nil)
	gomock.InOrder(
		s.mockUsers.EXPECT().FindByID(gomock.Any(), s.userID).Return(s.user("Ada", "Lovelace", 0), nil),
		s.mockUsers.EXPECT().RaiseTrust(gomock.Any(), s.userID, 2, models.TrustVerified, gomock.Any()).Return(false, nil),
		s.mockUsers.EXPECT().FindByID(gomock.Any(), s.userID).Return(s.user("Ada", "Lovelace", 4), nil),
	)

	level, err := s.service.RecomputeTrust(s.ctx, s.userID)
	s.Require().NoError(err)
	s.Equal(4, level)
}

func (s *VerificationServiceSuite) TestGetDocument() {
	s.mockDocs.EXPECT().FindByID(gomock.Any(), s.documentID).Return(s.document(models.DocumentSubmitted), nil)
	doc, err := s.service.GetDocument(s.ctx, s.documentID)
	s.Require().NoError(err)
	s.Equal("chk-1", doc.CheckRef)

	s.mockDocs.EXPECT().FindByID(gomock.Any(), s.documentID).Return(nil, sentinel.ErrNotFound)
	_, err = s.service.GetDocument(s.ctx, s.documentID)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}
