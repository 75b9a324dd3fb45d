package api

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/dunamismax/promptpeek/internal/normalize"
)

const multipartMemory = 8 << 20

var (
	errMissingFile    = errors.New("file is required")
	errUploadTooLarge = errors.New("upload exceeds size limit")
)

type upload struct {
	normalize.Image
	form map[string][]string
}

func (u upload) value(key string) string {
	if values := u.form[key]; len(values) > 0 {
		return strings.TrimSpace(values[0])
	}
	return ""
}

func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (upload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return upload{}, uploadReadError(err)
		}
		if len(data) == 0 {
			return upload{}, errMissingFile
		}
		return upload{
			Image: normalize.Image{
				Name:     "upload",
				MIMEType: normalize.DetectMIME(mediaType, data),
				Data:     data,
			},
		}, nil
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return upload{}, uploadReadError(err)
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return upload{}, errMissingFile
		}
		return upload{}, uploadReadError(err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return upload{}, uploadReadError(err)
	}
	if len(data) == 0 {
		return upload{}, errMissingFile
	}

	return upload{
		Image: normalize.Image{
			Name:     header.Filename,
			MIMEType: normalize.DetectMIME(header.Header.Get("Content-Type"), data),
			Data:     data,
		},
		form: r.MultipartForm.Value,
	}, nil
}

func uploadReadError(err error) error {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return fmt.Errorf("%w: %d bytes", errUploadTooLarge, maxBytesErr.Limit)
	}
	return fmt.Errorf("read upload: %w", err)
}

func writeUploadError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errUploadTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func (s *Server) handleNormalize(w http.ResponseWriter, r *http.Request) {
	in, err := s.readUpload(w, r)
	if err != nil {
		writeUploadError(w, err)
		return
	}

	res, err := s.normalizer.Normalize(r.Context(), in.Image)
	if err != nil {
		switch {
		case errors.Is(err, normalize.ErrDecode), errors.Is(err, normalize.ErrUnsupportedFormat):
			writeError(w, http.StatusUnsupportedMediaType, err.Error())
		default:
			s.logger.Printf("normalize failed name=%s mime=%s bytes=%d err=%v", in.Name, in.MIMEType, len(in.Data), err)
			writeError(w, http.StatusInternalServerError, "failed to normalize image")
		}
		return
	}
	s.metrics.observeNormalize(len(in.Data), res)

	h := w.Header()
	h.Set("Content-Type", normalize.CanonicalMIME(res.MIMEType))
	h.Set("Content-Length", strconv.Itoa(len(res.Data)))
	h.Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": outputName(in.Name, res.MIMEType)}))
	h.Set("X-Image-Width", strconv.Itoa(res.Width))
	h.Set("X-Image-Height", strconv.Itoa(res.Height))
	h.Set("X-Image-Quality", strconv.FormatFloat(res.Quality, 'f', 2, 64))
	h.Set("X-Image-Passes", strconv.Itoa(res.Passes))
	h.Set("X-Image-Within-Budget", strconv.FormatBool(res.WithinBudget))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Data)
}

func outputName(name, mimeType string) string {
	name = strings.TrimSpace(name)
	if dot := strings.LastIndexByte(name, '.'); dot > 0 {
		name = name[:dot]
	}
	if name == "" {
		name = "image"
	}
	return name + normalize.Extension(mimeType)
}
