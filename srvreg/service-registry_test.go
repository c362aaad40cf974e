package srvreg

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MTES-MCT/trackdechets-sub032/app"
	"github.com/MTES-MCT/trackdechets-sub032/lifecycle"
	"github.com/MTES-MCT/trackdechets-sub032/orchestrator"
	"github.com/MTES-MCT/trackdechets-sub032/repository"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	garageSiret    = "11111111100011"
	martinSiret    = "22222222200022"
	centreTriSiret = "44444444400044"
)

func newTestRegistry(t *testing.T) *ServiceRegistry {
	t.Helper()
	repo := repository.NewRepository(cmtlog.NewNopLogger())
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	require.NoError(t, repo.ConnectDB(fmt.Sprintf("file:srvreg_%s?mode=memory&cache=shared", name), 1))
	t.Cleanup(func() { _ = repo.Close() })
	require.NoError(t, repo.Migrate())
	require.NoError(t, repo.Seed(repository.DemoCompanies))

	logger := cmtlog.NewNopLogger()
	sr := NewServiceRegistry(orchestrator.New(repo, app.NewLogPublisher(logger), logger), logger)
	sr.RegisterDefaultServices()
	return sr
}

func call(t *testing.T, sr *ServiceRegistry, method, path, orgID string, body any) *Response {
	t.Helper()
	req := &Request{Method: method, Path: path}
	if orgID != "" {
		req.Actor = lifecycle.Actor{ID: "user-" + orgID, Name: "User " + orgID, OrgIDs: []string{orgID}}
	}
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		req.Body = string(raw)
	}
	res, err := req.GenerateResponse(sr)
	require.NoError(t, err)
	return res
}

func decode[T any](t *testing.T, res *Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(res.Body), &v), res.Body)
	return v
}

func createBsdd(t *testing.T, sr *ServiceRegistry) string {
	t.Helper()
	res := call(t, sr, "POST", "/bsds", garageSiret, map[string]any{
		"type": "BSDD",
		"fields": map[string]any{
			"emitter.company":     map[string]string{"siret": garageSiret, "name": "Garage Dupont"},
			"destination.company": map[string]string{"siret": centreTriSiret, "name": "Centre de tri Nord"},
			"transporters":        []map[string]any{{"company": map[string]string{"siret": martinSiret}}},
			"waste.code":          "16 01 03",
			"waste.description":   "Pneus usagés",
			"waste.quantity":      "10",
		},
	})
	require.Equal(t, http.StatusCreated, res.StatusCode, res.Body)
	return decode[lifecycle.Bordereau](t, res).ID
}

func TestMatchPath(t *testing.T) {
	params, ok := matchPath("/bsds/:id/links/:childId", "/bsds/BSD-1/links/BSD-2")
	require.True(t, ok)
	assert.Equal(t, map[string]string{"id": "BSD-1", "childId": "BSD-2"}, params)

	_, ok = matchPath("/bsds/:id", "/bsds/BSD-1/sign")
	assert.False(t, ok)
	_, ok = matchPath("/bsds/:id", "/bsds/")
	assert.False(t, ok)
	_, ok = matchPath("/bsds/:id/sign", "/bsds/BSD-1/finalize")
	assert.False(t, ok)
}

func TestActorFromHeaders(t *testing.T) {
	r := httptest.NewRequest("POST", "/bsds", strings.NewReader(`{ "type": "BSDD" }`))
	r.Header.Set(HeaderActorID, "user-1")
	r.Header.Set(HeaderActorName, "Jeanne")
	r.Header.Set(HeaderActorOrgs, " 111 , ,222")

	req, err := ConvertHttpRequest(r, "req-1")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.Actor{ID: "user-1", Name: "Jeanne", OrgIDs: []string{"111", "222"}}, req.Actor)
	assert.Equal(t, `{"type":"BSDD"}`, req.Body)
	assert.Equal(t, "req-1", req.RequestID)
}

func TestUnknownRoute(t *testing.T) {
	sr := newTestRegistry(t)
	res := call(t, sr, "PATCH", "/bsds/BSD-1", garageSiret, nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestSignatureRoutes(t *testing.T) {
	sr := newTestRegistry(t)
	id := createBsdd(t, sr)

	res := call(t, sr, "POST", "/bsds/"+id+"/finalize", garageSiret, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, res.Body)
	assert.Equal(t, lifecycle.StatusSealed, decode[orchestrator.Outcome](t, res).To)

	// Transporter cannot sign before the producer.
	res = call(t, sr, "POST", "/bsds/"+id+"/sign", martinSiret, map[string]any{"type": "TRANSPORT"})
	assert.Equal(t, http.StatusConflict, res.StatusCode, res.Body)

	// Wrong company for EMISSION.
	res = call(t, sr, "POST", "/bsds/"+id+"/sign", martinSiret, map[string]any{"type": "EMISSION"})
	assert.Equal(t, http.StatusForbidden, res.StatusCode, res.Body)

	res = call(t, sr, "POST", "/bsds/"+id+"/sign", garageSiret, map[string]any{"type": "EMISSION"})
	require.Equal(t, http.StatusOK, res.StatusCode, res.Body)
	assert.Equal(t, lifecycle.StatusSignedByProducer, decode[orchestrator.Outcome](t, res).To)

	res = call(t, sr, "POST", "/bsds/"+id+"/sign", garageSiret, map[string]any{"type": "EMISSION"})
	require.Equal(t, http.StatusOK, res.StatusCode, res.Body)
	assert.True(t, decode[orchestrator.Outcome](t, res).NoOp)

	res = call(t, sr, "GET", "/bsds/"+id+"/events", "", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	events := decode[[]map[string]any](t, res)
	require.Len(t, events, 3)
	assert.Equal(t, "BsdSigned", events[2]["type"])
}

func TestValidationErrorsListFields(t *testing.T) {
	sr := newTestRegistry(t)
	res := call(t, sr, "POST", "/bsds", garageSiret, map[string]any{
		"type":   "BSDD",
		"fields": map[string]any{"emitter.company": map[string]string{"siret": garageSiret}},
	})
	require.Equal(t, http.StatusCreated, res.StatusCode, res.Body)
	id := decode[lifecycle.Bordereau](t, res).ID

	res = call(t, sr, "POST", "/bsds/"+id+"/finalize", garageSiret, nil)
	require.Equal(t, http.StatusUnprocessableEntity, res.StatusCode, res.Body)
	body := decode[ErrorBody](t, res)
	assert.Contains(t, body.Fields, string(lifecycle.FieldWasteCode))
	assert.Contains(t, body.Fields, string(lifecycle.FieldDestination))
}

func TestMutationsRequireAnActor(t *testing.T) {
	sr := newTestRegistry(t)
	res := call(t, sr, "POST", "/bsds", "", map[string]any{"type": "BSDD"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res = call(t, sr, "POST", "/bsds", garageSiret, map[string]any{"fields": map[string]any{}})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res = call(t, sr, "GET", "/bsds/BSD-20240101-MISSING00", "", nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestRevisionRoutes(t *testing.T) {
	sr := newTestRegistry(t)
	id := createBsdd(t, sr)
	require.Equal(t, http.StatusOK, call(t, sr, "POST", "/bsds/"+id+"/finalize", garageSiret, nil).StatusCode)
	require.Equal(t, http.StatusOK, call(t, sr, "POST", "/bsds/"+id+"/sign", garageSiret, map[string]any{"type": "EMISSION"}).StatusCode)

	res := call(t, sr, "POST", "/bsds/"+id+"/revision-requests", garageSiret, map[string]any{
		"authoringOrgId": garageSiret,
		"content":        map[string]any{"waste.description": "Pneus poids lourds"},
		"comment":        "erreur de saisie",
	})
	require.Equal(t, http.StatusCreated, res.StatusCode, res.Body)
	rev := decode[lifecycle.RevisionRequest](t, res)
	assert.Equal(t, lifecycle.RevisionPending, rev.Status)

	res = call(t, sr, "POST", "/bsds/"+id+"/revision-requests", garageSiret, map[string]any{
		"authoringOrgId": garageSiret,
		"content":        map[string]any{"waste.code": "16 01 04*"},
	})
	assert.Equal(t, http.StatusConflict, res.StatusCode, res.Body)

	res = call(t, sr, "POST", "/revision-requests/"+rev.ID+"/approve", centreTriSiret, map[string]any{
		"company": centreTriSiret, "decision": "MAYBE",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, res.StatusCode)

	res = call(t, sr, "POST", "/revision-requests/"+rev.ID+"/cancel", martinSiret, map[string]any{"company": martinSiret})
	assert.Equal(t, http.StatusConflict, res.StatusCode, res.Body)

	res = call(t, sr, "POST", "/revision-requests/"+rev.ID+"/cancel", garageSiret, map[string]any{"company": garageSiret})
	require.Equal(t, http.StatusOK, res.StatusCode, res.Body)
	assert.Equal(t, lifecycle.RevisionCanceled, decode[lifecycle.RevisionRequest](t, res).Status)

	res = call(t, sr, "GET", "/bsds/"+id+"/revision-requests", "", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Len(t, decode[[]lifecycle.RevisionRequest](t, res), 1)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{&lifecycle.MissingFieldsError{Fields: []lifecycle.Field{lifecycle.FieldWasteCode}}, http.StatusUnprocessableEntity},
		{&lifecycle.LockedFieldsError{}, http.StatusUnprocessableEntity},
		{&lifecycle.UnauthorizedSignerError{}, http.StatusForbidden},
		{&lifecycle.InvalidTransitionError{}, http.StatusConflict},
		{fmt.Errorf("wrapped: %w", lifecycle.ErrAlreadyDecided), http.StatusConflict},
		{&repository.RepositoryError{Code: repository.ErrCodeNotFound}, http.StatusNotFound},
		{&repository.RepositoryError{Code: repository.PgErrUniqueViolation}, http.StatusConflict},
		{&lifecycle.InvariantViolationError{}, http.StatusInternalServerError},
	}
	for _, c := range cases {
		code, _ := StatusFor(c.err)
		assert.Equal(t, c.code, code, c.err.Error())
	}
}
