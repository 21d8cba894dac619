package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Daskott/sentinel/server/auth"
	"github.com/Daskott/sentinel/server/contacts"
	"github.com/Daskott/sentinel/server/gstorage"
	"github.com/Daskott/sentinel/server/guard"
	"github.com/Daskott/sentinel/server/models"
	"github.com/Daskott/sentinel/server/work"
	"github.com/Daskott/sentinel/utils"
	"github.com/go-playground/validator"
	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

// ---------------------------------------------------------------------------------//
// Handler Helper functions
// --------------------------------------------------------------------------------//

func writeResponse(rw http.ResponseWriter, payLoad ResponsePayload, statusCode int) {
	if statusCode >= http.StatusInternalServerError {
		logg.Error(payLoad.Errors)
	} else if statusCode >= http.StatusBadRequest {
		logg.Info(payLoad.Errors)
	}

	rw.WriteHeader(statusCode)
	json.NewEncoder(rw).Encode(payLoad)
}

// writeGuardError maps account guard errors to their http status.
func writeGuardError(rw http.ResponseWriter, err error) {
	var lockedErr *guard.LockedError

	switch {
	case errors.As(err, &lockedErr):
		retryAfter := lockedErr.RetryAfter(serverClock.Now())
		rw.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
		writeResponse(rw, ResponsePayload{Errors: []string{lockedErr.Error()}}, http.StatusLocked)
	case errors.Is(err, guard.ErrInvalidCredentials):
		writeResponse(rw, ResponsePayload{Errors: []string{guard.ErrInvalidCredentials.Error()}}, http.StatusUnauthorized)
	case errors.Is(err, guard.ErrChallengeInvalid):
		writeResponse(rw, ResponsePayload{Errors: []string{guard.ErrChallengeInvalid.Error()}}, http.StatusBadRequest)
	case errors.Is(err, guard.ErrIdentityNotFound):
		writeResponse(rw, ResponsePayload{Errors: []string{"user not found"}}, http.StatusNotFound)
	default:
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusInternalServerError)
	}
}

// requestUser loads the user named by the 'uid' path variable, writing
// the error response itself when it can't.
func requestUser(rw http.ResponseWriter, r *http.Request) (*models.User, bool) {
	user, err := models.FindUserBy("id", mux.Vars(r)["uid"])
	if errors.Is(err, gorm.ErrRecordNotFound) {
		writeResponse(rw, ResponsePayload{Errors: []string{"user not found"}}, http.StatusNotFound)
		return nil, false
	}

	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusInternalServerError)
		return nil, false
	}

	return user, true
}

func removeUnknownFields(args map[string]interface{}, validFields map[string]bool) {
	for key := range args {
		if !validFields[key] {
			delete(args, key)
		}
	}
}

func userIDParam(rw http.ResponseWriter, r *http.Request) (uint, bool) {
	uid, err := strconv.ParseUint(mux.Vars(r)["uid"], 10, 64)
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{"invalid user id"}}, http.StatusBadRequest)
		return 0, false
	}

	return uint(uid), true
}

func requestClaims(r *http.Request) *auth.SentinelTokenClaims {
	decodedJWT, _ := r.Context().Value(RequestContextKey("decodedJWT")).(DecodedJWT)
	return decodedJWT.Claims
}

func pageParam(r *http.Request) (int, error) {
	page, err := intQueryParam(r, "page", 1)
	if err != nil {
		return 0, err
	}

	if page < 1 {
		return 0, fmt.Errorf("page must be greater than 0")
	}
	return page, nil
}

func intQueryParam(r *http.Request, name string, defaultValue int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("%v must be a positive number", name)
	}

	return value, nil
}

func RegisterValidators(validate *validator.Validate) error {
	err := validate.RegisterValidation("password", func(fl validator.FieldLevel) bool {
		// if whitespace in password return false
		err := validate.Var(fl.Field().String(), "contains= ")
		if err == nil {
			return false
		}
		return len(fl.Field().String()) >= 8
	})
	if err != nil {
		return err
	}

	err = validate.RegisterValidation("phone_number", func(fl validator.FieldLevel) bool {
		_, ok := contacts.NormalizePhoneNumber(fl.Field().String(), contacts.DEFAULT_COUNTRY_CODE)
		return ok
	})
	if err != nil {
		return err
	}

	return nil
}

// ---------------------------------------------------------------------------------//
// Middleware Helper functions
// --------------------------------------------------------------------------------//

func decodeAndVerifyAuthHeader(authHeaderValue string) DecodedJWT {
	authHeaderList := strings.Split(authHeaderValue, "Bearer ")
	if len(authHeaderList) < 2 {
		return DecodedJWT{ErrorMsg: "no token provided"}
	}

	tokenClaims, err := auth.DecodeJWT(authHeaderList[1], authKeyPair)
	if err != nil {
		return DecodedJWT{ErrorMsg: "invalid token provided"}
	}

	// validate that the user account still exists & is active
	user, err := models.FindUserBy("id", tokenClaims.Subject)
	if err != nil || !user.Active {
		return DecodedJWT{ErrorMsg: "invalid token provided"}
	}

	return DecodedJWT{Claims: tokenClaims}
}

// client is only able to update/view their own record unless client is an admin
// who can view certain user resources
func canAccessUserResource(r *http.Request, userClaims *auth.SentinelTokenClaims) bool {
	allowedMethodsForAdmins := map[string]bool{"GET": true}
	deniedPathsForAdmin := []string{"/contacts"}

	if mux.Vars(r)["uid"] == userClaims.Subject {
		return true
	}

	if !userClaims.IsAdmin {
		return false
	}

	if !allowedMethodsForAdmins[r.Method] {
		return false
	}

	for _, deniedPath := range deniedPathsForAdmin {
		if strings.Contains(r.URL.Path, deniedPath) {
			return false
		}
	}

	return true
}

// ---------------------------------------------------------------------------------//
// Server Helper functions
// --------------------------------------------------------------------------------//

func serve(server *http.Server) {
	logg.Infof("Sentinel server is listening on %v", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Fatal(err)
	}
}

func cleanup(workerPool *work.WorkerPoolAdapter, server *http.Server, backupDb bool) {
	// Shutdown server gracefully, no new alert can be triggered after this
	ctxShutDown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctxShutDown); err != nil {
		logg.Errorf("Sentinel server shutdown failed:%+s", err)
	}

	// Let in-flight alert bursts finish
	alertDispatcher.Wait()

	workerPool.Stop()

	if backupDb {
		err := backupSqliteDb(nil)
		if err != nil {
			logg.Error(err)
		}
	}

	logg.Infof("Sentinel server stopped properly")
}

// restoreSqliteDb pulls the last backup when there is no local db yet.
func restoreSqliteDb() error {
	dbFilePath, err := models.DbFilePath(configDir)
	if err != nil {
		return err
	}

	if utils.FileExist(dbFilePath) {
		return nil
	}

	err = gStorage.DownloadFile(dbFilePath)
	if errors.Is(err, gstorage.ErrObjectNotExist) {
		logg.Info("No sqlite backup found, starting with a new db")
		return nil
	}

	return err
}

// configDirectory retrieves the directory to store sentinel data
// Or logs an error message and then calls os.Exit if it's unable to.
func configDirectory(devMode bool) string {
	// Use 'sentinel' folder in home directory for prod
	configFolderName := "sentinel"
	rootDir, err := os.UserHomeDir()
	fatalOnError(err)

	// Use 'dev' folder in current directory for dev mode
	if devMode {
		configFolderName = "dev"
		rootDir, err = os.Getwd()
		fatalOnError(err)
	}

	dir := filepath.Join(rootDir, configFolderName)

	err = utils.CreateDirIfNotExist(dir)
	fatalOnError(err)

	return dir
}

func fatalOnError(err error) {
	if err != nil {
		logg.Fatal(err)
	}
}
