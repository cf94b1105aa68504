package auth

import (
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/globalchat/backend/internal/db"
	apperrors "github.com/globalchat/backend/internal/errors"
	"github.com/globalchat/backend/internal/metrics"
)

const (
	profilePictureField = "profilePicture"
	// Room for the non-file multipart fields on top of the picture.
	multipartOverhead = 1 << 20
)

type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type EditProfileRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message"`
	Data    *PublicUser `json:"data"`
}

type LoginResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message"`
	Token   string      `json:"token"`
	Data    *PublicUser `json:"data"`
}

type ProfileData struct {
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	ProfilePicture *string   `json:"profilePicture"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type EditProfileResponse struct {
	Message string       `json:"message"`
	Data    *ProfileData `json:"data,omitempty"`
}

type Handlers struct {
	authService    *Service
	maxUploadBytes int64
	metrics        *metrics.Metrics
}

func NewHandlers(authService *Service, maxUploadBytes int64, m *metrics.Metrics) *Handlers {
	return &Handlers{authService: authService, maxUploadBytes: maxUploadBytes, metrics: m}
}

func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) error {
	var req RegisterRequest
	if err := apperrors.DecodeJSON(w, r, &req); err != nil {
		return err
	}

	if err := validateRegisterRequest(&req); err != nil {
		return apperrors.ValidationError(err.Error())
	}

	user, err := h.authService.Register(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, db.ErrEmailExists):
			return apperrors.EmailExists()
		case errors.Is(err, ErrPasswordTooLong):
			return apperrors.ValidationError(err.Error())
		default:
			return apperrors.InternalError("Error registering user").WithCause(err)
		}
	}

	h.metrics.IncCounter(metrics.CounterUsersRegistered)
	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusCreated, RegisterResponse{
		Status:  "success",
		Message: "User registered successfully",
		Data:    NewPublicUser(user),
	})
	return nil
}

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) error {
	var req LoginRequest
	if err := apperrors.DecodeJSON(w, r, &req); err != nil {
		return err
	}

	email := NormalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return apperrors.ValidationError("email and password are required")
	}

	result, err := h.authService.Login(r.Context(), email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidCredentials):
			h.metrics.IncCounter(metrics.CounterLoginsFailed)
			return apperrors.InvalidCredentials()
		case errors.Is(err, ErrMissingSecret):
			return apperrors.ServerConfiguration().WithCause(err)
		default:
			return apperrors.InternalError("Error logging in").WithCause(err)
		}
	}

	apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, LoginResponse{
		Status:  "success",
		Message: "Login successfully",
		Token:   result.Token,
		Data:    NewPublicUser(result.User),
	})
	return nil
}

func (h *Handlers) EditProfile(w http.ResponseWriter, r *http.Request) error {
	userCtx := GetUserFromContext(r.Context())
	if userCtx == nil {
		return apperrors.Unauthorized("access denied")
	}

	patch, cleanup, err := h.parseProfilePatch(w, r)
	if cleanup != nil {
		defer cleanup()
	}
	if err != nil {
		return err
	}

	user, changed, err := h.authService.EditProfile(r.Context(), userCtx.UserID, patch)
	if err != nil {
		switch {
		case errors.Is(err, db.ErrUserNotFound):
			return apperrors.NotFound("User")
		case errors.Is(err, ErrUpload):
			return apperrors.UploadError("Error uploading file").WithCause(err)
		case errors.Is(err, db.ErrEmailExists):
			return apperrors.EmailExists()
		case errors.Is(err, ErrPasswordTooLong):
			return apperrors.ValidationError(err.Error())
		default:
			return apperrors.InternalError("Error updating profile").WithCause(err)
		}
	}

	requestID := apperrors.GetRequestID(r.Context())
	if !changed {
		apperrors.WriteJSON(w, requestID, http.StatusOK, EditProfileResponse{Message: "No changes made to the profile."})
		return nil
	}

	h.metrics.IncCounter(metrics.CounterProfilesUpdated)
	apperrors.WriteJSON(w, requestID, http.StatusOK, EditProfileResponse{
		Message: "User profile updated successfully",
		Data: &ProfileData{
			Name:           user.Name,
			Email:          user.Email,
			ProfilePicture: user.ProfilePicture,
			CreatedAt:      user.CreatedAt,
			UpdatedAt:      user.UpdatedAt,
		},
	})
	return nil
}

// parseProfilePatch reads either a multipart form (with an optional picture)
// or a JSON body. Empty fields are treated as absent.
func (h *Handlers) parseProfilePatch(w http.ResponseWriter, r *http.Request) (ProfilePatch, func(), error) {
	var (
		patch   ProfilePatch
		req     EditProfileRequest
		cleanup func()
	)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+multipartOverhead)
		if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				return patch, nil, apperrors.ValidationError("file too large")
			}
			return patch, nil, apperrors.BadRequest("invalid multipart form")
		}
		cleanup = func() { r.MultipartForm.RemoveAll() }

		req.Name = r.FormValue("name")
		req.Email = r.FormValue("email")
		req.Password = r.FormValue("password")

		picture, err := h.readPicture(r)
		if err != nil {
			return patch, cleanup, err
		}
		patch.Picture = picture
	} else if err := apperrors.DecodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		return patch, nil, err
	}

	if name := NormalizeName(req.Name); name != "" {
		if err := ValidateName(name); err != nil {
			return patch, cleanup, apperrors.ValidationError(err.Error())
		}
		patch.Name = &name
	}
	if email := NormalizeEmail(req.Email); email != "" {
		if err := ValidateEmail(email); err != nil {
			return patch, cleanup, apperrors.ValidationError(err.Error())
		}
		patch.Email = &email
	}
	if req.Password != "" {
		if err := ValidatePassword(req.Password); err != nil {
			return patch, cleanup, apperrors.ValidationError(err.Error())
		}
		password := req.Password
		patch.Password = &password
	}

	return patch, cleanup, nil
}

// readPicture returns the uploaded picture, or nil when none was sent. The
// content type is sniffed from the bytes, not taken from the client.
func (h *Handlers) readPicture(r *http.Request) (*PictureUpload, error) {
	file, header, err := r.FormFile(profilePictureField)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.BadRequest("invalid profile picture")
	}

	if header.Size > h.maxUploadBytes {
		return nil, apperrors.ValidationError("file too large")
	}

	contentType, err := sniffContentType(file)
	if err != nil {
		return nil, apperrors.BadRequest("invalid profile picture")
	}
	if !strings.HasPrefix(contentType, "image/") {
		return nil, apperrors.ValidationError("Please upload an image file")
	}

	return &PictureUpload{
		Filename:    header.Filename,
		ContentType: contentType,
		Size:        header.Size,
		Body:        file,
	}, nil
}

func sniffContentType(file multipart.File) (string, error) {
	head := make([]byte, 512)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", err
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	return http.DetectContentType(head[:n]), nil
}
