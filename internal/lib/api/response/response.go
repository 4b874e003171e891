package response

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"booking_service/internal/models"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
)

type Response struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// AuthError is the body of 401/403 answers so the client can tell
// "log in again" apart from "not permitted".
type AuthError struct {
	Response
	IsAuthenticated bool  `json:"isAuthenticated"`
	IsAuthorized    *bool `json:"isAuthorized,omitempty"`
}

const (
	StatusOK    = "OK"
	StatusError = "Error"
)

func OK() Response {
	return Response{
		Status: StatusOK,
	}
}

func Error(msg string) Response {
	return Response{
		Status: StatusError,
		Error:  msg,
	}
}

func Unauthenticated(msg string) AuthError {
	return AuthError{
		Response:        Error(msg),
		IsAuthenticated: false,
	}
}

func Forbidden(msg string) AuthError {
	authorized := false

	return AuthError{
		Response:        Error(msg),
		IsAuthenticated: true,
		IsAuthorized:    &authorized,
	}
}

// WriteUnauthorized answers 401 with the unauthenticated body.
func WriteUnauthorized(w http.ResponseWriter, r *http.Request, msg string) {
	render.Status(r, http.StatusUnauthorized)
	render.JSON(w, r, Unauthenticated(msg))
}

// WriteForbidden answers 403 with the unauthorized body.
func WriteForbidden(w http.ResponseWriter, r *http.Request, msg string) {
	render.Status(r, http.StatusForbidden)
	render.JSON(w, r, Forbidden(msg))
}

func ValidationError(errs validator.ValidationErrors) Response {
	var errMsgs []string

	for _, err := range errs {
		switch err.ActualTag() {
		case "required":
			errMsgs = append(errMsgs, fmt.Sprintf("field %s is a required field", err.Field()))
		case "email":
			errMsgs = append(errMsgs, fmt.Sprintf("field %s must be a valid email", err.Field()))
		case "min":
			errMsgs = append(errMsgs, fmt.Sprintf("field %s must be at least %s characters", err.Field(), err.Param()))
		case "max":
			errMsgs = append(errMsgs, fmt.Sprintf("field %s must be at most %s characters", err.Field(), err.Param()))
		default:
			errMsgs = append(errMsgs, fmt.Sprintf("field %s is not valid", err.Field()))
		}
	}

	return Response{
		Status: StatusError,
		Error:  strings.Join(errMsgs, ", "),
	}
}

// User is the public view of an account. Credentials never leave the server.
type User struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	Phone          string    `json:"phone,omitempty"`
	IsAdmin        bool      `json:"isAdmin"`
	AuthMethod     string    `json:"authMethod"`
	ProfilePicture string    `json:"profilePicture,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

func UserView(u models.User) User {
	return User{
		ID:             u.ID,
		Name:           u.Name,
		Email:          u.Email,
		Phone:          u.Phone,
		IsAdmin:        u.IsAdmin,
		AuthMethod:     string(u.AuthMethod),
		ProfilePicture: u.ProfilePicture,
		CreatedAt:      u.CreatedAt,
	}
}
