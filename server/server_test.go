package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/Daskott/sentinel/server/auth"
	"github.com/Daskott/sentinel/server/auth/key"
	"github.com/Daskott/sentinel/server/models"
	"github.com/Daskott/sentinel/server/work"
	"github.com/Daskott/sentinel/shared"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	testPassword    = "correct-horse"
	emergencyNumber = "+911123978046"
)

var adminToken string

func TestMain(m *testing.M) {
	auth.PasswordHashCost = bcrypt.MinCost
	models.InitializeTestDb()

	privateKeyPem, err := key.GenerateTestPrivateKeyPem()
	if err != nil {
		log.Panic(err)
	}

	authKeyPair, err = key.NewKeyPairFromRSAPrivateKeyPem(privateKeyPem)
	if err != nil {
		log.Panic(err)
	}

	// Twilio is left unconfigured so nothing leaves the test process
	err = setupDependencies(&shared.ServerConfig{
		Sentinel: shared.SentinelConfig{TimeZone: "Asia/Kolkata"},
		Alerts:   shared.AlertsConfig{EmergencyNumber: emergencyNumber},
	})
	if err != nil {
		log.Panic(err)
	}

	workerPool = work.NewWorkerAdapter("UTC")
	if err = registerJobHandlers(workerPool); err != nil {
		log.Panic(err)
	}

	adminToken, err = seedAdmin()
	if err != nil {
		log.Panic(err)
	}

	code := m.Run()
	alertDispatcher.Wait()
	os.Exit(code)
}

func seedAdmin() (string, error) {
	adminRole, err := models.FindRole(models.ADMIN_USER_ROLE)
	if err != nil {
		return "", err
	}

	err = models.CreateUser(&models.User{
		Username:    "admin",
		FirstName:   "Desk",
		LastName:    "Officer",
		PhoneNumber: "+919800000000",
		Email:       "desk@example.com",
		Password:    testPassword,
		RoleID:      adminRole.ID,
	})
	if err != nil {
		return "", err
	}

	recorder := sendRequest("POST", "/api/v1/login", map[string]string{"identifier": "admin", "password": testPassword}, "")
	if recorder.Code != http.StatusOK {
		return "", fmt.Errorf("admin login failed: %v", recorder.Body.String())
	}

	return decodePayload(recorder).Data.(map[string]interface{})["token"].(string), nil
}

func sendRequest(method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	var reqBody bytes.Buffer
	switch value := body.(type) {
	case nil:
	case string:
		reqBody.WriteString(value)
	default:
		json.NewEncoder(&reqBody).Encode(value)
	}

	req := httptest.NewRequest(method, path, &reqBody)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	recorder := httptest.NewRecorder()
	newRouter().ServeHTTP(recorder, req)
	return recorder
}

func decodePayload(recorder *httptest.ResponseRecorder) ResponsePayload {
	payload := ResponsePayload{}
	json.NewDecoder(recorder.Body).Decode(&payload)
	return payload
}

// createTestUser registers a user through the api and returns its id & token.
func createTestUser(t *testing.T, username, phoneNumber string) (uint, string) {
	recorder := sendRequest("POST", "/api/v1/users", map[string]string{
		"username":     username,
		"first_name":   "Test",
		"last_name":    username,
		"phone_number": phoneNumber,
		"email":        username + "@example.com",
		"nationality":  "CA",
		"password":     testPassword,
	}, "")
	require.Equal(t, http.StatusCreated, recorder.Code, recorder.Body.String())

	id := uint(decodePayload(recorder).Data.(map[string]interface{})["id"].(float64))

	recorder = sendRequest("POST", "/api/v1/login", map[string]string{"identifier": username, "password": testPassword}, "")
	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())

	return id, decodePayload(recorder).Data.(map[string]interface{})["token"].(string)
}
