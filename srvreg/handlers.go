package srvreg

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MTES-MCT/trackdechets-sub032/lifecycle"
	"github.com/MTES-MCT/trackdechets-sub032/orchestrator"
	"github.com/MTES-MCT/trackdechets-sub032/repository"
)

var defaultHeaders = map[string]string{"Content-Type": "application/json"}

// ErrorBody is the JSON body of every failed request.
type ErrorBody struct {
	Error  string   `json:"error"`
	Fields []string `json:"fields,omitempty"`
}

func jsonResponse(statusCode int, v any) (*Response, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &Response{
		StatusCode: statusCode,
		Headers:    defaultHeaders,
		Body:       string(body),
	}, nil
}

func errorResponse(statusCode int, message string, fields []string) *Response {
	body, _ := json.Marshal(ErrorBody{Error: message, Fields: fields})
	return &Response{
		StatusCode: statusCode,
		Headers:    defaultHeaders,
		Body:       string(body),
	}
}

func fieldNames(fields []lifecycle.Field) []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = string(f)
	}
	return names
}

// StatusFor maps a lifecycle or repository error to its HTTP status and the
// offending fields, if any.
func StatusFor(err error) (int, []string) {
	var (
		missing      *lifecycle.MissingFieldsError
		invalidField *lifecycle.InvalidFieldError
		locked       *lifecycle.LockedFieldsError
		invalidRev   *lifecycle.InvalidRevisionError
		unauthorized *lifecycle.UnauthorizedSignerError
		forbidden    *lifecycle.ForbiddenError
		transition   *lifecycle.InvalidTransitionError
		incompatible *lifecycle.IncompatibleLinkError
		notAllowed   *lifecycle.RevisionNotAllowedError
	)
	switch {
	case errors.As(err, &missing):
		return http.StatusUnprocessableEntity, fieldNames(missing.Fields)
	case errors.As(err, &invalidField):
		return http.StatusUnprocessableEntity, []string{string(invalidField.Field)}
	case errors.As(err, &locked):
		return http.StatusUnprocessableEntity, fieldNames(locked.Fields)
	case errors.As(err, &invalidRev), errors.Is(err, lifecycle.ErrUnknownType):
		return http.StatusUnprocessableEntity, nil
	case errors.As(err, &unauthorized), errors.As(err, &forbidden):
		return http.StatusForbidden, nil
	case errors.As(err, &transition),
		errors.As(err, &incompatible),
		errors.As(err, &notAllowed),
		errors.Is(err, lifecycle.ErrConcurrentRevisionExists),
		errors.Is(err, lifecycle.ErrAlreadyDecided),
		errors.Is(err, lifecycle.ErrApproverNotOnDocument),
		errors.Is(err, lifecycle.ErrRevisionAuthorMismatch),
		errors.Is(err, lifecycle.ErrLinkedIntoParent),
		repository.IsConflict(err):
		return http.StatusConflict, nil
	case repository.IsNotFound(err):
		return http.StatusNotFound, nil
	}
	return http.StatusInternalServerError, nil
}

func (sr *ServiceRegistry) fail(req *Request, err error) (*Response, error) {
	statusCode, fields := StatusFor(err)
	if statusCode == http.StatusInternalServerError {
		sr.logger.Error("Request failed", "method", req.Method, "path", req.Path, "err", err)
		return errorResponse(statusCode, "Internal server error", nil), nil
	}
	return errorResponse(statusCode, err.Error(), fields), nil
}

// decodeBody unmarshals the request body into v. An empty body leaves v untouched.
func decodeBody(req *Request, v any) *Response {
	if req.Body == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(req.Body), v); err != nil {
		return errorResponse(http.StatusUnprocessableEntity, "Invalid body format: "+err.Error(), nil)
	}
	return nil
}

// requireActor rejects mutations sent without an authenticated user.
func requireActor(req *Request) *Response {
	if req.Actor.ID == "" {
		return errorResponse(http.StatusUnauthorized, "missing "+HeaderActorID+" header", nil)
	}
	return nil
}

func (sr *ServiceRegistry) CreateBsdHandler(req *Request) (*Response, error) {
	if res := requireActor(req); res != nil {
		return res, nil
	}
	var body orchestrator.CreateRequest
	if res := decodeBody(req, &body); res != nil {
		return res, nil
	}
	if body.Type == "" {
		return errorResponse(http.StatusBadRequest, "type is required", []string{"type"}), nil
	}

	b, err := sr.orchestrator.Create(req.Context(), req.Actor, body)
	if err != nil {
		return sr.fail(req, err)
	}
	return jsonResponse(http.StatusCreated, b)
}

func (sr *ServiceRegistry) GetBsdHandler(req *Request) (*Response, error) {
	b, err := sr.orchestrator.Get(req.Context(), req.Params["id"])
	if err != nil {
		return sr.fail(req, err)
	}
	return jsonResponse(http.StatusOK, b)
}

func (sr *ServiceRegistry) BsdEventsHandler(req *Request) (*Response, error) {
	events, err := sr.orchestrator.Events(req.Context(), req.Params["id"])
	if err != nil {
		return sr.fail(req, err)
	}
	return jsonResponse(http.StatusOK, events)
}

func (sr *ServiceRegistry) UpdateBsdHandler(req *Request) (*Response, error) {
	if res := requireActor(req); res != nil {
		return res, nil
	}
	var changes lifecycle.Changes
	if res := decodeBody(req, &changes); res != nil {
		return res, nil
	}

	b, err := sr.orchestrator.Update(req.Context(), req.Actor, req.Params["id"], changes)
	if err != nil {
		return sr.fail(req, err)
	}
	return jsonResponse(http.StatusOK, b)
}

func (sr *ServiceRegistry) DeleteBsdHandler(req *Request) (*Response, error) {
	if res := requireActor(req); res != nil {
		return res, nil
	}
	id := req.Params["id"]
	if err := sr.orchestrator.Delete(req.Context(), req.Actor, id); err != nil {
		return sr.fail(req, err)
	}
	return jsonResponse(http.StatusOK, map[string]string{"message": "Bordereau deleted", "id": id})
}

func (sr *ServiceRegistry) FinalizeBsdHandler(req *Request) (*Response, error) {
	if res := requireActor(req); res != nil {
		return res, nil
	}
	out, err := sr.orchestrator.Finalize(req.Context(), req.Actor, req.Params["id"])
	if err != nil {
		return sr.fail(req, err)
	}
	return jsonResponse(http.StatusOK, out)
}

func (sr *ServiceRegistry) SignBsdHandler(req *Request) (*Response, error) {
	if res := requireActor(req); res != nil {
		return res, nil
	}
	var body orchestrator.SignRequest
	if res := decodeBody(req, &body); res != nil {
		return res, nil
	}
	if body.Type == "" {
		return errorResponse(http.StatusBadRequest, "type is required", []string{"type"}), nil
	}

	out, err := sr.orchestrator.Sign(req.Context(), req.Actor, req.Params["id"], body)
	if err != nil {
		return sr.fail(req, err)
	}
	return jsonResponse(http.StatusOK, out)
}

func (sr *ServiceRegistry) ResealBsdHandler(req *Request) (*Response, error) {
	if res := requireActor(req); res != nil {
		return res, nil
	}
	var changes lifecycle.Changes
	if res := decodeBody(req, &changes); res != nil {
		return res, nil
	}

	out, err := sr.orchestrator.Reseal(req.Context(), req.Actor, req.Params["id"], changes)
	if err != nil {
		return sr.fail(req, err)
	}
	return jsonResponse(http.StatusOK, out)
}

type linkHandlerBody struct {
	Kind     lifecycle.RelationKind `json:"kind"`
	ChildIDs []string               `json:"childIds"`
}

func (sr *ServiceRegistry) LinkHandler(req *Request) (*Response, error) {
	if res := requireActor(req); res != nil {
		return res, nil
	}
	var body linkHandlerBody
	if res := decodeBody(req, &body); res != nil {
		return res, nil
	}
	if len(body.ChildIDs) == 0 {
		return errorResponse(http.StatusBadRequest, "childIds is required", []string{"childIds"}), nil
	}

	parent, err := sr.orchestrator.Link(req.Context(), req.Actor, req.Params["id"], body.Kind, body.ChildIDs)
	if err != nil {
		return sr.fail(req, err)
	}
	return jsonResponse(http.StatusOK, parent)
}

func (sr *ServiceRegistry) UnlinkHandler(req *Request) (*Response, error) {
	if res := requireActor(req); res != nil {
		return res, nil
	}
	child, err := sr.orchestrator.Unlink(req.Context(), req.Actor, req.Params["id"], req.Params["childId"])
	if err != nil {
		return sr.fail(req, err)
	}
	return jsonResponse(http.StatusOK, child)
}

func (sr *ServiceRegistry) ListRevisionRequestsHandler(req *Request) (*Response, error) {
	requests, err := sr.orchestrator.RevisionRequests(req.Context(), req.Params["id"])
	if err != nil {
		return sr.fail(req, err)
	}
	return jsonResponse(http.StatusOK, requests)
}

func (sr *ServiceRegistry) CreateRevisionRequestHandler(req *Request) (*Response, error) {
	if res := requireActor(req); res != nil {
		return res, nil
	}
	var body orchestrator.RevisionProposal
	if res := decodeBody(req, &body); res != nil {
		return res, nil
	}
	if body.AuthoringOrgID == "" {
		return errorResponse(http.StatusBadRequest, "authoringOrgId is required", []string{"authoringOrgId"}), nil
	}

	r, err := sr.orchestrator.CreateRevisionRequest(req.Context(), req.Actor, req.Params["id"], body)
	if err != nil {
		return sr.fail(req, err)
	}
	return jsonResponse(http.StatusCreated, r)
}

type approveHandlerBody struct {
	Company  string                   `json:"company"`
	Decision lifecycle.RevisionStatus `json:"decision"`
	Comment  string                   `json:"comment"`
}

func (sr *ServiceRegistry) ApproveRevisionRequestHandler(req *Request) (*Response, error) {
	if res := requireActor(req); res != nil {
		return res, nil
	}
	var body approveHandlerBody
	if res := decodeBody(req, &body); res != nil {
		return res, nil
	}
	if body.Company == "" {
		return errorResponse(http.StatusBadRequest, "company is required", []string{"company"}), nil
	}
	if body.Decision != lifecycle.RevisionAccepted && body.Decision != lifecycle.RevisionRefused {
		return errorResponse(http.StatusUnprocessableEntity, "decision must be ACCEPTED or REFUSED", []string{"decision"}), nil
	}

	r, err := sr.orchestrator.ApproveRevisionRequest(req.Context(), req.Actor, req.Params["id"], body.Company,
		body.Decision == lifecycle.RevisionAccepted, body.Comment)
	if err != nil {
		return sr.fail(req, err)
	}
	return jsonResponse(http.StatusOK, r)
}

type cancelHandlerBody struct {
	Company string `json:"company"`
}

func (sr *ServiceRegistry) CancelRevisionRequestHandler(req *Request) (*Response, error) {
	if res := requireActor(req); res != nil {
		return res, nil
	}
	var body cancelHandlerBody
	if res := decodeBody(req, &body); res != nil {
		return res, nil
	}
	if body.Company == "" {
		return errorResponse(http.StatusBadRequest, "company is required", []string{"company"}), nil
	}

	r, err := sr.orchestrator.CancelRevisionRequest(req.Context(), req.Actor, req.Params["id"], body.Company)
	if err != nil {
		return sr.fail(req, err)
	}
	return jsonResponse(http.StatusOK, r)
}
