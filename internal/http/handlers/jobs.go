package handlers

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"

	"imagepump/internal/codec"
	"imagepump/internal/domain"
)

const maxBatchUploadBytes = 200 << 20

func (a *App) ListJobs(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]any{
		"jobs":          a.Queue.Jobs(),
		"defaultPrompt": a.Queue.DefaultPrompt(),
		"running":       a.Queue.Running(),
	})
}

// SubmitJobs queues every file sent under "images" (or "image").
func (a *App) SubmitJobs(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBatchUploadBytes)
	if err := r.ParseMultipartForm(maxMemoryBytes); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			a.error(w, http.StatusRequestEntityTooLarge, "Upload is too large")
			return
		}
		a.error(w, http.StatusBadRequest, "No images provided")
		return
	}
	files := append(append([]*multipart.FileHeader(nil), r.MultipartForm.File["images"]...), r.MultipartForm.File["image"]...)
	if len(files) == 0 {
		a.error(w, http.StatusBadRequest, "No images provided")
		return
	}
	type upload struct {
		name string
		data []byte
		mime string
	}
	uploads := make([]upload, 0, len(files))
	for _, fh := range files {
		data, err := readPart(fh)
		if err != nil || len(data) == 0 {
			a.error(w, http.StatusBadRequest, "Could not read "+fh.Filename)
			return
		}
		mime := codec.DetectMIME(data)
		if !codec.SupportedMIME(mime) {
			a.error(w, http.StatusBadRequest, fh.Filename+": "+codec.ErrUnsupportedType.Error())
			return
		}
		uploads = append(uploads, upload{name: fh.Filename, data: data, mime: mime})
	}
	created := make([]domain.ImageJob, 0, len(uploads))
	for _, u := range uploads {
		job, err := a.Queue.Submit(u.name, u.data, u.mime)
		if err != nil {
			a.fail(w, err)
			return
		}
		created = append(created, job)
	}
	a.json(w, http.StatusCreated, map[string]any{"jobs": created})
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (a *App) DeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := a.Queue.Remove(chi.URLParam(r, "id")); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// JobResult streams the generated image of a completed job.
func (a *App) JobResult(w http.ResponseWriter, r *http.Request) {
	job, ok := a.Queue.Job(chi.URLParam(r, "id"))
	if !ok {
		a.fail(w, domain.ErrNotFound)
		return
	}
	if !job.HasResult() {
		a.error(w, http.StatusNotFound, "job has no result")
		return
	}
	mime := job.ResultMIME
	if mime == "" {
		mime = http.DetectContentType(job.Result)
	}
	w.Header().Set("Content-Type", mime)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(job.Result)
}

func (a *App) ResetJobs(w http.ResponseWriter, r *http.Request) {
	n, err := a.Queue.ResetFinished()
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]int{"reset": n})
}

func (a *App) ToggleSelect(w http.ResponseWriter, r *http.Request) {
	selected, err := a.Queue.ToggleSelected(chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]bool{"selected": selected})
}

func (a *App) SelectCompleted(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]int{"selected": a.Queue.SelectCompleted()})
}

type idsRequest struct {
	JobIDs []string `json:"jobIds"`
}

// Deselect clears the listed jobs, or every job when the body is empty.
func (a *App) Deselect(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if r.ContentLength != 0 {
		if !a.decode(w, r, &req) {
			return
		}
	}
	if len(req.JobIDs) == 0 {
		a.Queue.DeselectAll()
	} else {
		a.Queue.Deselect(req.JobIDs...)
	}
	w.WriteHeader(http.StatusNoContent)
}
