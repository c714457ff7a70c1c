package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"trustmint/internal/issuance/handler/mocks"
	"trustmint/internal/issuance/models"
	"trustmint/internal/issuance/service"
	dErrors "trustmint/pkg/domain-errors"
	"trustmint/pkg/testutil"
)

type IssuanceHandlerSuite struct {
	suite.Suite
	ctrl        *gomock.Controller
	mockService *mocks.MockService
	router      chi.Router
	logs        *bytes.Buffer
}

func TestIssuanceHandlerSuite(t *testing.T) {
	suite.Run(t, new(IssuanceHandlerSuite))
}

func (s *IssuanceHandlerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.mockService = mocks.NewMockService(s.ctrl)
	s.logs = &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(s.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	s.router = chi.NewRouter()
	New(s.mockService, logger, nil, 0).Register(s.router)
}

func (s *IssuanceHandlerSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *IssuanceHandlerSuite) TestIssue() {
	s.Run("object metadata is passed verbatim", func() {
		assetID := "0000000700"
		s.mockService.EXPECT().IssueAsset(gomock.Any(), "sSecretSeed", gomock.Any(), service.Options{MaximumAmount: "500", AssetScale: 2}).
			DoAndReturn(func(_ context.Context, _ string, metadata any, _ service.Options) (*models.LedgerTransactionResult, error) {
				raw, ok := metadata.(json.RawMessage)
				s.Require().True(ok)
				s.JSONEq(`{"name":"Bond"}`, string(raw))
				return &models.LedgerTransactionResult{Success: true, AssetID: &assetID, Status: models.StatusIssued, TxHash: "AB"}, nil
			})

		req := testutil.NewRequestWithBody(s.T(), http.MethodPost, "/assets",
			`{"issuer_seed":"sSecretSeed","metadata":{"name":"Bond"},"maximum_amount":"500","asset_scale":2}`)
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatus(s.T(), rr, http.StatusCreated)
		body := testutil.UnmarshalResponse[models.LedgerTransactionResult](s.T(), rr)
		s.Require().NotNil(body.AssetID)
		s.Equal("0000000700", *body.AssetID)
		s.Equal(models.StatusIssued, body.Status)
		s.NotContains(s.logs.String(), "sSecretSeed")
	})

	s.Run("string metadata is decoded to text", func() {
		s.mockService.EXPECT().IssueAsset(gomock.Any(), "sSeed", "plain text", service.Options{}).
			Return(&models.LedgerTransactionResult{Success: true, Status: models.StatusIssuedUnreconciled}, nil)

		req := testutil.NewRequestWithBody(s.T(), http.MethodPost, "/assets", `{"issuer_seed":"sSeed","metadata":"plain text"}`)
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatus(s.T(), rr, http.StatusCreated)
	})

	s.Run("validated failure answers 200 with success false", func() {
		s.mockService.EXPECT().IssueAsset(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(&models.LedgerTransactionResult{Success: false, Status: models.StatusFailed, EngineResult: "tecNO_PERMISSION"}, nil)

		req := testutil.NewRequestWithBody(s.T(), http.MethodPost, "/assets", `{"issuer_seed":"sSeed","metadata":"x"}`)
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatusOK(s.T(), rr)
		testutil.AssertJSONContains(s.T(), rr, "success", false)
	})

	s.Run("missing metadata is a configuration error", func() {
		req := testutil.NewRequestWithBody(s.T(), http.MethodPost, "/assets", `{"issuer_seed":"sSeed"}`)
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "configuration_error")
	})

	s.Run("malformed body", func() {
		req := testutil.NewRequestWithBody(s.T(), http.MethodPost, "/assets", `{`)
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")
	})

	s.Run("ledger errors map to status codes", func() {
		cases := []struct {
			err    error
			status int
			code   string
		}{
			{dErrors.New(dErrors.CodeLedgerRejected, "transaction rejected"), http.StatusUnprocessableEntity, "ledger_rejected"},
			{dErrors.New(dErrors.CodeLedgerTimeout, "validation timeout"), http.StatusGatewayTimeout, "ledger_timeout"},
			{dErrors.New(dErrors.CodeConnection, "ledger connect failed"), http.StatusBadGateway, "connection_error"},
		}
		for _, tc := range cases {
			s.mockService.EXPECT().IssueAsset(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, tc.err)
			req := testutil.NewRequestWithBody(s.T(), http.MethodPost, "/assets", `{"issuer_seed":"sSeed","metadata":"x"}`)
			rr := testutil.DoRequest(s.router, req)
			testutil.AssertStatusAndError(s.T(), rr, tc.status, tc.code)
		}
	})
}

func (s *IssuanceHandlerSuite) TestReconcile() {
	s.mockService.EXPECT().Reconcile(gomock.Any(), "ABCD").
		Return(&models.LedgerTransactionResult{TxHash: "ABCD", Validated: true, Success: true, Status: models.StatusIssued}, nil)

	req := testutil.NewRequestWithBody(s.T(), http.MethodPost, "/assets/reconcile", `{"tx_hash":"ABCD"}`)
	rr := testutil.DoRequest(s.router, req)
	testutil.AssertStatusOK(s.T(), rr)
	testutil.AssertJSONContains(s.T(), rr, "tx_hash", "ABCD")
}

func (s *IssuanceHandlerSuite) TestGet() {
	s.Run("found", func() {
		s.mockService.EXPECT().GetRecord(gomock.Any(), "01J9Z3K1T2ZQ4W5X6Y7A8B9C0D").
			Return(&models.LedgerTransactionResult{ID: "01J9Z3K1T2ZQ4W5X6Y7A8B9C0D", Status: models.StatusIssued}, nil)

		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/assets/01J9Z3K1T2ZQ4W5X6Y7A8B9C0D"))
		testutil.AssertStatusOK(s.T(), rr)
		testutil.AssertJSONContains(s.T(), rr, "id", "01J9Z3K1T2ZQ4W5X6Y7A8B9C0D")
	})

	s.Run("not found", func() {
		s.mockService.EXPECT().GetRecord(gomock.Any(), "missing").
			Return(nil, dErrors.New(dErrors.CodeNotFound, "token record not found"))

		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/assets/missing"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, "not_found")
	})
}
