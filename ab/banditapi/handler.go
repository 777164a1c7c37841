// Package banditapi exposes an experiment registry over HTTP.
//
//	GET  /experiments
//	GET  /experiments/{name}
//	POST /experiments/{name}/suggest[?pull=true]
//	GET  /experiments/{name}/arms/{arm}
//	POST /experiments/{name}/arms/{arm}/pull
//	POST /experiments/{name}/arms/{arm}/reward   {"amount": 1}
//
// Responses are wrapped in {"data": ...} or {"error": {"code", "message"}}.
package banditapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alextanhongpin/mab/ab"
	"github.com/alextanhongpin/mab/ab/experiment"
)

// Registry is the subset of experiment.Registry served over HTTP.
type Registry interface {
	Names() []string
	Get(name string) (*ab.Bandit, error)
	Suggest(name string) (ab.Arm, error)
	Assign(name string) (ab.Arm, error)
	Arm(name, id string) (ab.Arm, error)
	Pull(name, id string) error
	Reward(name, id string, amount float64) error
}

// Experiment is the JSON view of a bandit.
type Experiment struct {
	Name       string   `json:"name"`
	BanditType ab.Type  `json:"bandit_type"`
	TotalPulls int64    `json:"total_pulls"`
	Arms       []ab.Arm `json:"arms"`
}

type RewardRequest struct {
	Amount *float64 `json:"amount"`
}

// defaultReward is credited when the request has no amount.
const defaultReward = 1.0

// maxBodyBytes bounds the reward request body.
const maxBodyBytes = 1 << 20

type handler struct {
	registry Registry
	logger   *slog.Logger
}

// New returns the API handler with request ids and request logging.
func New(registry Registry, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &handler{
		registry: registry,
		logger:   logger,
	}

	mux := http.NewServeMux()
	h.register(mux)

	return withRequestID(logRequest(logger, mux))
}

func (h *handler) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /experiments", h.list)
	mux.HandleFunc("GET /experiments/{name}", h.get)
	mux.HandleFunc("POST /experiments/{name}/suggest", h.suggest)
	mux.HandleFunc("GET /experiments/{name}/arms/{arm}", h.arm)
	mux.HandleFunc("POST /experiments/{name}/arms/{arm}/pull", h.pull)
	mux.HandleFunc("POST /experiments/{name}/arms/{arm}/reward", h.reward)
}

func (h *handler) list(w http.ResponseWriter, r *http.Request) {
	names := h.registry.Names()

	exps := make([]Experiment, 0, len(names))
	for _, name := range names {
		b, err := h.registry.Get(name)
		if errors.Is(err, experiment.ErrExperimentNotFound) {
			continue
		}
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		exps = append(exps, newExperiment(name, b))
	}

	writeData(w, exps, http.StatusOK)
}

func (h *handler) get(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	b, err := h.registry.Get(name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeData(w, newExperiment(name, b), http.StatusOK)
}

// suggest returns the next arm. With pull=true the arm is also pulled, which
// is how a new visitor gets assigned.
func (h *handler) suggest(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	pull := false
	if v := r.URL.Query().Get("pull"); v != "" {
		var err error
		pull, err = strconv.ParseBool(v)
		if err != nil {
			h.writeError(w, r, fmt.Errorf("%w: pull=%q", errBadRequest, v))
			return
		}
	}

	var (
		arm ab.Arm
		err error
	)
	if pull {
		arm, err = h.registry.Assign(name)
	} else {
		arm, err = h.registry.Suggest(name)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeData(w, arm, http.StatusOK)
}

func (h *handler) arm(w http.ResponseWriter, r *http.Request) {
	arm, err := h.registry.Arm(r.PathValue("name"), r.PathValue("arm"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeData(w, arm, http.StatusOK)
}

func (h *handler) pull(w http.ResponseWriter, r *http.Request) {
	name, id := r.PathValue("name"), r.PathValue("arm")
	if err := h.registry.Pull(name, id); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeArm(w, r, name, id)
}

func (h *handler) reward(w http.ResponseWriter, r *http.Request) {
	name, id := r.PathValue("name"), r.PathValue("arm")

	var req RewardRequest
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req)
	if err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, r, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}

	amount := defaultReward
	if req.Amount != nil {
		amount = *req.Amount
	}

	if err := h.registry.Reward(name, id, amount); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeArm(w, r, name, id)
}

func (h *handler) writeArm(w http.ResponseWriter, r *http.Request, name, id string) {
	arm, err := h.registry.Arm(name, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeData(w, arm, http.StatusOK)
}

func newExperiment(name string, b *ab.Bandit) Experiment {
	return Experiment{
		Name:       name,
		BanditType: b.Type(),
		TotalPulls: b.TotalPulls(),
		Arms:       b.Arms(),
	}
}
