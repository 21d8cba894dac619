package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Daskott/sentinel/server/alert"
	"github.com/Daskott/sentinel/server/auth"
	"github.com/Daskott/sentinel/server/auth/key"
	"github.com/Daskott/sentinel/server/guard"
	"github.com/Daskott/sentinel/server/models"
	"github.com/Daskott/sentinel/server/work"
	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

// createUserRequest holds what a client may set on sign up. Role,
// verification & security columns are never taken from the body.
type createUserRequest struct {
	Username    string `json:"username" validate:"required,alphanum,min=3,max=32"`
	FirstName   string `json:"first_name" validate:"required"`
	LastName    string `json:"last_name" validate:"required"`
	PhoneNumber string `json:"phone_number" validate:"required,phone_number"`
	Email       string `json:"email" validate:"required,email"`
	Nationality string `json:"nationality"`
	Password    string `json:"password" validate:"required,password"`

	EmergencyContactName         string `json:"emergency_contact_name"`
	EmergencyContactPhone        string `json:"emergency_contact_phone"`
	EmergencyContactRelationship string `json:"emergency_contact_relationship"`
}

type loginRequest struct {
	Identifier string `json:"identifier" validate:"required"`
	Password   string `json:"password" validate:"required"`
}

type emergencyContactRequest struct {
	Name         string `json:"name" validate:"required"`
	PhoneNumber  string `json:"phone_number" validate:"required,phone_number"`
	Relationship string `json:"relationship"`
}

type confirmVerificationRequest struct {
	Code string `json:"code" validate:"required,numeric,len=6"`
}

type approvalRequest struct {
	DocumentsApproved *bool `json:"documents_approved"`
	PhoneVerified     *bool `json:"phone_verified"`
}

type resolveAlertRequest struct {
	Status string `json:"status" validate:"required,oneof=resolved cancelled"`
	Notes  string `json:"notes"`
}

// alertRequest fields are pointers so an absent coordinate can be told
// apart from 0.
type alertRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Accuracy  *float64 `json:"accuracy"`
}

func health(rw http.ResponseWriter, r *http.Request) {
	writeResponse(rw, ResponsePayload{Success: true}, http.StatusOK)
}

func jwks(rw http.ResponseWriter, r *http.Request) {
	publicJWK, err := authKeyPair.JWK()
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusInternalServerError)
		return
	}

	rw.WriteHeader(http.StatusOK)
	json.NewEncoder(rw).Encode(key.ExportJWKAsJWKS(publicJWK))
}

func createUser(rw http.ResponseWriter, r *http.Request) {
	data := createUserRequest{}

	err := json.NewDecoder(r.Body).Decode(&data)
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusBadRequest)
		return
	}

	errs := validate.Struct(data)
	if errs != nil {
		writeResponse(rw, ResponsePayload{Errors: strings.Split(errs.Error(), "\n")}, http.StatusBadRequest)
		return
	}

	user := models.User{
		Username:                     data.Username,
		FirstName:                    data.FirstName,
		LastName:                     data.LastName,
		Email:                        data.Email,
		Nationality:                  data.Nationality,
		Password:                     data.Password,
		EmergencyContactName:         data.EmergencyContactName,
		EmergencyContactRelationship: data.EmergencyContactRelationship,
	}

	// Stored numbers are always normalized so login & alerts agree on them
	user.PhoneNumber, _ = contactResolver.Normalize(data.PhoneNumber)
	if data.EmergencyContactPhone != "" {
		phoneNumber, ok := contactResolver.Normalize(data.EmergencyContactPhone)
		if !ok {
			writeResponse(rw, ResponsePayload{Errors: []string{"emergency_contact_phone is invalid"}}, http.StatusBadRequest)
			return
		}
		user.EmergencyContactPhone = phoneNumber
	}

	// The very first user is the admin
	roleName := models.BASIC_USER_ROLE
	userExists, err := models.AtLeastOneUserExists()
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusInternalServerError)
		return
	}
	if !userExists {
		roleName = models.ADMIN_USER_ROLE
	}

	role, err := models.FindRole(roleName)
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusInternalServerError)
		return
	}
	user.RoleID = role.ID

	err = models.CreateUser(&user)
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusInternalServerError)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true, Data: map[string]interface{}{"id": user.ID}}, http.StatusCreated)
}

func login(rw http.ResponseWriter, r *http.Request) {
	data := loginRequest{}

	err := json.NewDecoder(r.Body).Decode(&data)
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusBadRequest)
		return
	}

	errs := validate.Struct(data)
	if errs != nil {
		writeResponse(rw, ResponsePayload{Errors: strings.Split(errs.Error(), "\n")}, http.StatusBadRequest)
		return
	}

	identity, err := accountGuard.Authenticate(r.Context(), data.Identifier, data.Password)
	if err != nil {
		writeGuardError(rw, err)
		return
	}

	user, err := models.FindUserBy("id", identity.ID)
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusInternalServerError)
		return
	}

	isAdmin, err := user.IsAdmin()
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusInternalServerError)
		return
	}

	claims := auth.NewTokenClaims(fmt.Sprint(user.ID), user.FirstName, user.LastName, isAdmin, time.Now())
	token, err := auth.EncodeJWT(claims, authKeyPair)
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusInternalServerError)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true, Data: map[string]string{"token": token}}, http.StatusOK)
}

func findUser(rw http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(rw, r)
	if !ok {
		return
	}

	writeResponse(rw, ResponsePayload{Success: true, Data: user}, http.StatusOK)
}

func updateUser(rw http.ResponseWriter, r *http.Request) {
	var errs []string
	data := make(map[string]interface{})

	err := json.NewDecoder(r.Body).Decode(&data)
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusBadRequest)
		return
	}

	removeUnknownFields(data, map[string]bool{
		"first_name": true, "last_name": true, "email": true, "nationality": true, "password": true,
	})
	if len(data) <= 0 {
		writeResponse(rw,
			ResponsePayload{Errors: []string{"valid fields required"}},
			http.StatusBadRequest,
		)
		return
	}

	for field, value := range data {
		str, ok := value.(string)
		if !ok {
			errs = append(errs, fmt.Sprintf("%v must be a string", field))
			continue
		}

		switch field {
		case "password":
			if validate.Var(str, "password") != nil {
				errs = append(errs, "password must be at least 8 characters without spaces")
			}
		case "email":
			if validate.Var(str, "email") != nil {
				errs = append(errs, "email is invalid")
			}
		case "first_name", "last_name":
			if strings.TrimSpace(str) == "" {
				errs = append(errs, fmt.Sprintf("%v cannot be empty", field))
			}
		}
	}

	if len(errs) > 0 {
		writeResponse(rw, ResponsePayload{Errors: errs}, http.StatusBadRequest)
		return
	}

	user, ok := requestUser(rw, r)
	if !ok {
		return
	}

	err = user.Update(data)
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusInternalServerError)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true}, http.StatusOK)
}

// deactivateUser stops the user from logging in. Existing tokens stop
// working too, see decodeAndVerifyAuthHeader.
func deactivateUser(rw http.ResponseWriter, r *http.Request) {
	err := models.DeactivateUser(mux.Vars(r)["uid"])
	if errors.Is(err, models.ErrNotFound) {
		writeResponse(rw, ResponsePayload{Errors: []string{"user not found"}}, http.StatusNotFound)
		return
	}

	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusInternalServerError)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true}, http.StatusOK)
}

func setEmergencyContact(rw http.ResponseWriter, r *http.Request) {
	data := emergencyContactRequest{}

	err := json.NewDecoder(r.Body).Decode(&data)
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusBadRequest)
		return
	}

	errs := validate.Struct(data)
	if errs != nil {
		writeResponse(rw, ResponsePayload{Errors: strings.Split(errs.Error(), "\n")}, http.StatusBadRequest)
		return
	}

	user, ok := requestUser(rw, r)
	if !ok {
		return
	}

	phoneNumber, _ := contactResolver.Normalize(data.PhoneNumber)
	err = user.SetEmergencyContact(data.Name, phoneNumber, data.Relationship)
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusInternalServerError)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true}, http.StatusOK)
}

func deleteEmergencyContact(rw http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(rw, r)
	if !ok {
		return
	}

	err := user.ClearEmergencyContact()
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusInternalServerError)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true}, http.StatusOK)
}

func findContacts(rw http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(rw, r)
	if !ok {
		return
	}

	page, err := pageParam(r)
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusBadRequest)
		return
	}

	contacts, paging, err := user.FetchContacts(page)
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusInternalServerError)
		return
	}

	writeResponse(rw, ResponsePayload{
		Success: true,
		Data:    map[string]interface{}{"contacts": contacts, "paging": paging},
	}, http.StatusOK)
}

func createContact(rw http.ResponseWriter, r *http.Request) {
	contact := models.Contact{}

	err := json.NewDecoder(r.Body).Decode(&contact)
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusBadRequest)
		return
	}

	errs := validate.Struct(contact)
	if errs != nil {
		writeResponse(rw, ResponsePayload{Errors: strings.Split(errs.Error(), "\n")}, http.StatusBadRequest)
		return
	}

	user, ok := requestUser(rw, r)
	if !ok {
		return
	}

	contact.ID = 0
	contact.PhoneNumber, _ = contactResolver.Normalize(contact.PhoneNumber)
	err = user.AddContact(&contact)
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusInternalServerError)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true, Data: contact}, http.StatusCreated)
}

func deleteContact(rw http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(rw, r)
	if !ok {
		return
	}

	err := user.DeleteContact(mux.Vars(r)["id"])
	if errors.Is(err, models.ErrNotFound) {
		writeResponse(rw, ResponsePayload{Errors: []string{"contact not found"}}, http.StatusNotFound)
		return
	}

	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusInternalServerError)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true}, http.StatusOK)
}

// requestVerification issues a new code & queues its delivery by SMS.
// The code itself is never part of the response.
func requestVerification(rw http.ResponseWriter, r *http.Request) {
	uid, ok := userIDParam(rw, r)
	if !ok {
		return
	}

	_, err := accountGuard.IssueChallenge(r.Context(), uid)
	if err != nil {
		writeGuardError(rw, err)
		return
	}

	err = workerPool.Perform(work.JobParams{
		Name:    fmt.Sprintf("%v_%v", SEND_CHALLENGE_CODE_HANDLER, uid),
		Handler: SEND_CHALLENGE_CODE_HANDLER,
		Args:    map[string]interface{}{"user_id": uid},

		// A delivery already underway may be texting the code just replaced
		AllowWhileRunning: true,
	})
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusInternalServerError)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true}, http.StatusAccepted)
}

func confirmVerification(rw http.ResponseWriter, r *http.Request) {
	data := confirmVerificationRequest{}

	err := json.NewDecoder(r.Body).Decode(&data)
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusBadRequest)
		return
	}

	errs := validate.Struct(data)
	if errs != nil {
		writeResponse(rw, ResponsePayload{Errors: strings.Split(errs.Error(), "\n")}, http.StatusBadRequest)
		return
	}

	uid, ok := userIDParam(rw, r)
	if !ok {
		return
	}

	err = accountGuard.ConfirmPhoneNumber(r.Context(), uid, data.Code)
	if err != nil {
		writeGuardError(rw, err)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true}, http.StatusOK)
}

func approveUser(rw http.ResponseWriter, r *http.Request) {
	data := approvalRequest{}

	err := json.NewDecoder(r.Body).Decode(&data)
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusBadRequest)
		return
	}

	if data.DocumentsApproved == nil && data.PhoneVerified == nil {
		writeResponse(rw,
			ResponsePayload{Errors: []string{"documents_approved or phone_verified is required"}},
			http.StatusBadRequest,
		)
		return
	}

	uid, ok := userIDParam(rw, r)
	if !ok {
		return
	}

	err = accountGuard.ConsumeChallenge(r.Context(), uid, guard.VerificationUpdate{
		DocumentsApproved: data.DocumentsApproved,
		PhoneVerified:     data.PhoneVerified,
		ClearChallenge:    data.PhoneVerified != nil && *data.PhoneVerified,
	})
	if err != nil {
		writeGuardError(rw, err)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true}, http.StatusOK)
}

// triggerAlert always records the alert, a missing or malformed location
// is sent as unavailable.
func triggerAlert(rw http.ResponseWriter, r *http.Request) {
	data := alertRequest{}

	err := json.NewDecoder(r.Body).Decode(&data)
	if err != nil && !errors.Is(err, io.EOF) {
		logg.Warnf("Ignoring malformed alert payload: %v", err)
		data = alertRequest{}
	}

	user, ok := requestUser(rw, r)
	if !ok {
		return
	}

	handle, err := alertDispatcher.Trigger(r.Context(), user, data.location())
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusInternalServerError)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true, Data: handle}, http.StatusCreated)
}

func alertHistory(rw http.ResponseWriter, r *http.Request) {
	limit, err := intQueryParam(r, "limit", alert.DEFAULT_HISTORY_SIZE)
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusBadRequest)
		return
	}

	offset, err := intQueryParam(r, "offset", 0)
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusBadRequest)
		return
	}

	uid, ok := userIDParam(rw, r)
	if !ok {
		return
	}

	alerts, err := alertDispatcher.History(r.Context(), uid, limit, offset)
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusInternalServerError)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true, Data: alerts}, http.StatusOK)
}

func resolveAlert(rw http.ResponseWriter, r *http.Request) {
	data := resolveAlertRequest{}

	err := json.NewDecoder(r.Body).Decode(&data)
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusBadRequest)
		return
	}

	errs := validate.Struct(data)
	if errs != nil {
		writeResponse(rw, ResponsePayload{Errors: strings.Split(errs.Error(), "\n")}, http.StatusBadRequest)
		return
	}

	record, err := models.FindAlert(mux.Vars(r)["id"])
	if errors.Is(err, gorm.ErrRecordNotFound) {
		writeResponse(rw, ResponsePayload{Errors: []string{"alert not found"}}, http.StatusNotFound)
		return
	}

	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusInternalServerError)
		return
	}

	resolverID, err := strconv.ParseUint(requestClaims(r).Subject, 10, 64)
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusInternalServerError)
		return
	}

	err = record.Resolve(data.Status, uint(resolverID), data.Notes, serverClock.Now())
	if errors.Is(err, models.ErrAlertNotActive) {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusConflict)
		return
	}

	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusInternalServerError)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true, Data: record}, http.StatusOK)
}

func jobsStats(rw http.ResponseWriter, r *http.Request) {
	stats, err := models.CurrentJobsStats()
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusInternalServerError)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true, Data: stats}, http.StatusOK)
}

// location is nil unless both coordinates were sent. Range checks are
// left to the dispatcher.
func (data alertRequest) location() *alert.Location {
	if data.Latitude == nil || data.Longitude == nil {
		return nil
	}

	return &alert.Location{Latitude: *data.Latitude, Longitude: *data.Longitude, Accuracy: data.Accuracy}
}
