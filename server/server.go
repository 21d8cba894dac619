package server

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Daskott/sentinel/server/alert"
	"github.com/Daskott/sentinel/server/auth"
	"github.com/Daskott/sentinel/server/auth/key"
	"github.com/Daskott/sentinel/server/clock"
	"github.com/Daskott/sentinel/server/contacts"
	"github.com/Daskott/sentinel/server/gstorage"
	"github.com/Daskott/sentinel/server/guard"
	"github.com/Daskott/sentinel/server/logger"
	"github.com/Daskott/sentinel/server/models"
	"github.com/Daskott/sentinel/server/twilio"
	"github.com/Daskott/sentinel/server/work"
	"github.com/Daskott/sentinel/shared"
	"github.com/go-playground/validator"
	"github.com/gorilla/mux"
)

type RequestContextKey string

type DecodedJWT struct {
	Claims   *auth.SentinelTokenClaims
	ErrorMsg string
}

type ResponsePayload struct {
	Errors  []string    `json:"errors"`
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
}

var (
	logg = logger.NewLogger()

	validate        *validator.Validate
	authKeyPair     *key.KeyPair
	workerPool      *work.WorkerPoolAdapter
	smsClient       *twilio.ClientWrapper
	smsSender       string
	contactResolver *contacts.Resolver
	accountGuard    *guard.Guard
	alertDispatcher *alert.Dispatcher
	gStorage        *gstorage.GStorage
	configDir       string

	// serverClock is shared by the account guard, the dispatcher and every
	// handler or job that compares against their timestamps.
	serverClock clock.Clock = clock.Real
)

// Start wires every component from 'config', serves the API and blocks
// until the process is asked to stop.
func Start(config *shared.ServerConfig, devMode bool) {
	var err error

	if config.Security.BcryptCost > 0 {
		auth.PasswordHashCost = config.Security.BcryptCost
	}

	configDir = configDirectory(devMode)
	backupEnabled := config.Google.Storage.EnableSqliteBackupAndSync

	if backupEnabled {
		gStorage, err = gstorage.NewGStorage(
			config.Google.ApplicationCredentials,
			config.Google.Storage.Bucket,
			config.Google.Storage.Prefix,
		)
		fatalOnError(err)

		fatalOnError(restoreSqliteDb())
	}

	fatalOnError(models.AutoMigrate(config.Sqlite.PassPhrase, configDir))

	authKeyPair, err = key.NewKeyPairFromRSAPrivateKeyPem(config.Sentinel.PrivateKeyPem)
	fatalOnError(err)

	fatalOnError(setupDependencies(config))

	workerPool = work.NewWorkerAdapter(config.Sentinel.TimeZone)
	fatalOnError(registerJobHandlers(workerPool))
	fatalOnError(enqueuePeriodicJobs(workerPool, config))
	fatalOnError(workerPool.Start())

	server := &http.Server{
		Addr:         fmt.Sprintf(":%v", config.Sentinel.Listener.Port),
		Handler:      newRouter(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go serve(server)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-done

	cleanup(workerPool, server, backupEnabled)
}

// setupDependencies builds the validator, the account guard & the alert
// dispatcher from 'config'. The db must already be open.
func setupDependencies(config *shared.ServerConfig) error {
	validate = validator.New()
	err := RegisterValidators(validate)
	if err != nil {
		return err
	}

	contactResolver = contacts.NewResolver(config.Alerts.EmergencyNumber, config.Alerts.DefaultCountryCode)

	accountGuard, err = guard.New(guard.NewGormStore(contactResolver.Normalize),
		guard.WithClock(serverClock),
		guard.WithLogger(logg),
	)
	if err != nil {
		return err
	}

	smsClient = twilio.NewClient(config.Twilio)
	smsSender = config.Twilio.FromNumber
	if !smsClient.Configured() {
		logg.Warn("Twilio is not configured, alerts will be recorded but no SMS will be sent")
	}

	location, err := time.LoadLocation(config.Sentinel.TimeZone)
	if err != nil {
		logg.Warnf("Unknown time zone %q, using UTC", config.Sentinel.TimeZone)
		location = time.UTC
	}

	burstAttempts := config.Alerts.BurstAttempts
	if burstAttempts == 0 {
		burstAttempts = alert.BURST_ATTEMPTS
	}

	burstInterval := alert.BURST_INTERVAL
	if config.Alerts.BurstIntervalSeconds > 0 {
		burstInterval = time.Duration(config.Alerts.BurstIntervalSeconds) * time.Second
	}

	alertDispatcher, err = alert.NewDispatcher(smsClient, alert.GormStore{}, contactResolver,
		alert.WithSender(smsSender),
		alert.WithCategory(config.Alerts.Category),
		alert.WithBurst(burstAttempts, burstInterval),
		alert.WithTimeZone(location),
		alert.WithClock(serverClock),
		alert.WithLogger(logg),
	)
	return err
}

func newRouter() *mux.Router {
	router := mux.NewRouter()
	router.Use(loggingMiddleware)
	router.Use(initialContextMiddleware)

	router.HandleFunc("/health", health).Methods("GET")
	router.HandleFunc("/jwks", jwks).Methods("GET")

	apiRouter := router.PathPrefix("/api/v1").Subrouter()
	apiRouter.HandleFunc("/users", createUser).Methods("POST")
	apiRouter.HandleFunc("/login", login).Methods("POST")

	adminRouter := apiRouter.NewRoute().Subrouter()
	adminRouter.Use(adminRouteMiddleware)
	adminRouter.HandleFunc("/users/{uid:[0-9]+}", deactivateUser).Methods("DELETE")
	adminRouter.HandleFunc("/users/{uid:[0-9]+}/approval", approveUser).Methods("PUT")
	adminRouter.HandleFunc("/alerts/{id:[0-9]+}/resolve", resolveAlert).Methods("PUT")
	adminRouter.HandleFunc("/jobs/stats", jobsStats).Methods("GET")

	userRouter := apiRouter.PathPrefix("/users/{uid:[0-9]+}").Subrouter()
	userRouter.Use(protectedRouteMiddleware)
	userRouter.HandleFunc("", findUser).Methods("GET")
	userRouter.HandleFunc("", updateUser).Methods("PUT")
	userRouter.HandleFunc("/emergency-contact", setEmergencyContact).Methods("PUT")
	userRouter.HandleFunc("/emergency-contact", deleteEmergencyContact).Methods("DELETE")
	userRouter.HandleFunc("/contacts", findContacts).Methods("GET")
	userRouter.HandleFunc("/contacts", createContact).Methods("POST")
	userRouter.HandleFunc("/contacts/{id:[0-9]+}", deleteContact).Methods("DELETE")
	userRouter.HandleFunc("/verification", requestVerification).Methods("POST")
	userRouter.HandleFunc("/verification/confirm", confirmVerification).Methods("POST")
	userRouter.HandleFunc("/alerts", triggerAlert).Methods("POST")
	userRouter.HandleFunc("/alerts", alertHistory).Methods("GET")

	return router
}
