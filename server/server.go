// Copyright 2025 The saplcore Authors.
// Use of this source code is governed by an Apache-2.0
// license that can be found in the LICENSE file.

package server

import (
	"encoding/json"
	"net/http"

	"github.com/saplcore/pdp/combining"
	"github.com/saplcore/pdp/eval"
	"github.com/saplcore/pdp/logging"
	"github.com/saplcore/pdp/pdp"
	"github.com/saplcore/pdp/value"
)

// Server wraps a *pdp.PDP with an HTTP surface, grounded on the teacher's
// server/server.go request-handler-per-route shape (one handler method per
// API verb, sharing a common logger).
type Server struct {
	pdp    *pdp.PDP
	logger logging.Logger
	mux    *http.ServeMux
}

// New builds a Server backed by p, with /v1/decisions registered on its own
// mux (see Handler). A caller that serves several surfaces (e.g. also
// metrics.Provider's /metrics) from one mux of its own uses
// RegisterEndpoints instead.
func New(p *pdp.PDP, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	s := &Server{pdp: p, logger: logger, mux: http.NewServeMux()}
	s.mux.HandleFunc("/v1/decisions", s.handleDecisions)
	return s
}

// Handler returns the server's http.Handler for use with http.Server or a
// test httptest.Server.
func (s *Server) Handler() http.Handler { return s.mux }

// RegisterEndpoints hands the server's /v1/decisions handler to a
// caller-supplied registrar, so the caller can mount it on a mux it shares
// with other surfaces (metrics.Provider has a RegisterEndpoints of the
// same shape), mirroring the teacher's Provider/Server split.
func (s *Server) RegisterEndpoints(registrar func(path, method string, handler http.Handler)) {
	registrar("/v1/decisions", http.MethodPost, http.HandlerFunc(s.handleDecisions))
}

// handleDecisions implements POST /v1/decisions (spec.md §3's
// Authorization Subscription -> Authorization Decision, delivered as
// newline-delimited JSON so later decisions from a streaming evaluation
// can follow the first on the same connection, per spec.md §4.8 step 5).
func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, NewErrorV1(CodeInvalidParameter, "method not allowed"))
		return
	}

	var body SubscriptionV1
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, NewErrorV1(CodeInvalidParameter, "invalid request body: %v", err))
		return
	}

	sub, err := toSubscription(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, NewErrorV1(CodeInvalidParameter, "invalid subscription: %v", err))
		return
	}

	ch, cancel, err := s.pdp.Decisions(r.Context(), sub)
	if err != nil {
		writeError(w, http.StatusInternalServerError, NewErrorV1(CodeInternal, "%v", err))
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)

	enc := json.NewEncoder(w)
	for {
		select {
		case d, ok := <-ch:
			if !ok {
				return
			}
			dv, err := toDecisionV1(d)
			if err != nil {
				s.logger.Error("dropping undeliverable decision: %v", err)
				continue
			}
			if err := enc.Encode(dv); err != nil {
				return
			}
			if canFlush {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return
		}
	}
}

func toSubscription(body SubscriptionV1) (eval.Subscription, error) {
	subject, err := value.FromInterface(body.Subject)
	if err != nil {
		return eval.Subscription{}, err
	}
	action, err := value.FromInterface(body.Action)
	if err != nil {
		return eval.Subscription{}, err
	}
	resource, err := value.FromInterface(body.Resource)
	if err != nil {
		return eval.Subscription{}, err
	}
	environment, err := value.FromInterface(body.Environment)
	if err != nil {
		return eval.Subscription{}, err
	}
	return eval.Subscription{Subject: subject, Action: action, Resource: resource, Environment: environment}, nil
}

func toDecisionV1(d pdp.Decision) (DecisionV1, error) {
	out := DecisionV1{Decision: decisionString(d.Decision)}
	if !d.Resource.IsUndefined() && !d.Resource.IsError() {
		r, err := d.Resource.ToInterface()
		if err != nil {
			return DecisionV1{}, err
		}
		out.Resource = r
	}
	for _, o := range d.Obligations {
		v, err := o.ToInterface()
		if err != nil {
			return DecisionV1{}, err
		}
		out.Obligations = append(out.Obligations, v)
	}
	for _, a := range d.Advice {
		v, err := a.ToInterface()
		if err != nil {
			return DecisionV1{}, err
		}
		out.Advice = append(out.Advice, v)
	}
	return out, nil
}

func decisionString(d combining.Decision) string {
	return d.String()
}

func writeError(w http.ResponseWriter, status int, e *ErrorV1) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(e.Bytes())
}
