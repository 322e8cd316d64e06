package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"imagepump/internal/pipeline"
)

type groupRequest struct {
	Name   string `json:"name"`
	Prompt string `json:"prompt"`
}

type groupPatch struct {
	Name   *string `json:"name"`
	Prompt *string `json:"prompt"`
}

func (a *App) ListGroups(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]any{"groups": a.Queue.Groups()})
}

func (a *App) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req groupRequest
	if !a.decode(w, r, &req) {
		return
	}
	g, err := a.Queue.CreateGroup(req.Name, req.Prompt)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusCreated, g)
}

func (a *App) UpdateGroup(w http.ResponseWriter, r *http.Request) {
	var req groupPatch
	if !a.decode(w, r, &req) {
		return
	}
	g, err := a.Queue.UpdateGroup(chi.URLParam(r, "id"), pipeline.GroupUpdate{Name: req.Name, Prompt: req.Prompt})
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, g)
}

func (a *App) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := a.Queue.DeleteGroup(chi.URLParam(r, "id")); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) AssignGroup(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.Queue.Assign(chi.URLParam(r, "id"), req.JobIDs...); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) UnassignGroup(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.Queue.Unassign(req.JobIDs...); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type promptRequest struct {
	Prompt string `json:"prompt"`
}

func (a *App) GetPrompt(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, promptRequest{Prompt: a.Queue.DefaultPrompt()})
}

func (a *App) SetPrompt(w http.ResponseWriter, r *http.Request) {
	var req promptRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.Queue.SetDefaultPrompt(req.Prompt); err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, promptRequest{Prompt: a.Queue.DefaultPrompt()})
}
