// Package alert records emergency triggers and fans the SOS message out to
// every resolved destination in fixed-size SMS bursts.
package alert

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Daskott/sentinel/colors"
	"github.com/Daskott/sentinel/server/clock"
	"github.com/Daskott/sentinel/server/logger"
	"github.com/Daskott/sentinel/server/models"
	"github.com/Daskott/sentinel/server/work"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	BURST_ATTEMPTS       = 3
	BURST_INTERVAL       = 2 * time.Second
	DEFAULT_HISTORY_SIZE = 10

	MAP_LINK_BASE        = "https://maps.google.com/?q="
	LOCATION_UNAVAILABLE = "Location: unavailable"
	TIMESTAMP_LAYOUT     = "Mon, 02 Jan 2006 15:04:05 MST"
)

var ErrGatewayUnavailable = errors.New("sms gateway is not configured, alert recorded without delivery")

// Channel is the outbound SMS gateway.
type Channel interface {
	Configured() bool
	Send(from, to, body string) (string, error)
}

type Store interface {
	CreateAlert(ctx context.Context, alert *models.Alert) error
	FetchAlertsByUser(ctx context.Context, userID uint, limit, offset int) ([]models.Alert, error)
}

type Resolver interface {
	Resolve(user *models.User) []string
}

type Location struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
}

// Valid reports whether the coordinates are finite and on the globe.
func (l *Location) Valid() bool {
	if l == nil {
		return false
	}

	for _, v := range []float64{l.Latitude, l.Longitude} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}

	if l.Accuracy != nil && (math.IsNaN(*l.Accuracy) || math.IsInf(*l.Accuracy, 0) || *l.Accuracy < 0) {
		return false
	}

	return l.Latitude >= -90 && l.Latitude <= 90 && l.Longitude >= -180 && l.Longitude <= 180
}

// Handle is what the caller gets back from Trigger, before any delivery.
type Handle struct {
	AlertID      uint      `json:"alert_id"`
	TriggeredAt  time.Time `json:"triggered_at"`
	Destinations []string  `json:"destinations"`
}

type Dispatcher struct {
	channel  Channel
	store    Store
	resolver Resolver

	from     string
	category string
	attempts int
	interval time.Duration
	location *time.Location

	clock clock.Clock
	logg  *zap.SugaredLogger
	wg    sync.WaitGroup
}

type Option func(*Dispatcher)

// WithSender sets the sender address used for every alert SMS.
func WithSender(from string) Option {
	return func(d *Dispatcher) {
		d.from = from
	}
}

func WithCategory(category string) Option {
	return func(d *Dispatcher) {
		if category != "" {
			d.category = category
		}
	}
}

// WithBurst overrides the attempts per destination & the spacing between them.
func WithBurst(attempts int, interval time.Duration) Option {
	return func(d *Dispatcher) {
		if attempts > 0 {
			d.attempts = attempts
		}
		if interval >= 0 {
			d.interval = interval
		}
	}
}

// WithTimeZone sets the zone the timestamp in the message body is shown in.
func WithTimeZone(location *time.Location) Option {
	return func(d *Dispatcher) {
		if location != nil {
			d.location = location
		}
	}
}

func WithClock(c clock.Clock) Option {
	return func(d *Dispatcher) {
		d.clock = c
	}
}

func WithLogger(logg *zap.SugaredLogger) Option {
	return func(d *Dispatcher) {
		d.logg = logg
	}
}

func NewDispatcher(channel Channel, store Store, resolver Resolver, opts ...Option) (*Dispatcher, error) {
	if store == nil || resolver == nil {
		return nil, errors.New("alert store and contact resolver are required")
	}

	d := &Dispatcher{
		channel:  channel,
		store:    store,
		resolver: resolver,
		category: models.SOS_ALERT_CATEGORY,
		attempts: BURST_ATTEMPTS,
		interval: BURST_INTERVAL,
		location: time.UTC,
		clock:    clock.Real,
		logg:     logger.NewNopLogger(),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d, nil
}

// Trigger records an active alert for 'user' and returns as soon as the
// record is stored. Delivery runs in the background and its outcome never
// reaches the caller. A nil or malformed location is sent as unavailable.
func (d *Dispatcher) Trigger(ctx context.Context, user *models.User, location *Location) (*Handle, error) {
	if user == nil {
		return nil, errors.New("trigger: user is required")
	}

	if location != nil && !location.Valid() {
		d.logWarnf("discarding malformed location %+v from user %v", *location, user.ID)
		location = nil
	}

	triggeredAt := d.clock.Now()
	destinations := d.resolver.Resolve(user)

	alert := newAlertRecord(user, location, triggeredAt, d.category, destinations)
	err := d.store.CreateAlert(ctx, alert)
	if err != nil {
		return nil, errors.Wrap(err, "trigger")
	}

	d.logInfof("alert %v recorded for user %v, notifying %v destination(s)", alert.ID, user.ID, len(destinations))

	body := MessageBody(user, location, triggeredAt.In(d.location))

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.fanout(alert.ID, destinations, body)
	}()

	return &Handle{AlertID: alert.ID, TriggeredAt: triggeredAt, Destinations: destinations}, nil
}

// History returns the user's alerts, most recent first. A limit <= 0 means
// the default of 10.
func (d *Dispatcher) History(ctx context.Context, userID uint, limit, offset int) ([]models.Alert, error) {
	if limit <= 0 {
		limit = DEFAULT_HISTORY_SIZE
	}

	alerts, err := d.store.FetchAlertsByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "history")
	}

	return alerts, nil
}

// Wait blocks until every in-flight burst has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// MessageBody is the SOS text shared by every attempt of one trigger.
func MessageBody(user *models.User, location *Location, at time.Time) string {
	var b strings.Builder

	fmt.Fprintf(&b, "SOS! %v", strings.TrimSpace(user.FullName()))
	if user.PhoneNumber != "" {
		fmt.Fprintf(&b, " (%v)", user.PhoneNumber)
	}
	b.WriteString(" needs help.\n")

	if location.Valid() {
		fmt.Fprintf(&b, "Location: %v\n", MapLink(location.Latitude, location.Longitude))
	} else {
		b.WriteString(LOCATION_UNAVAILABLE + "\n")
	}

	fmt.Fprintf(&b, "Time: %v", at.Format(TIMESTAMP_LAYOUT))
	return b.String()
}

func MapLink(latitude, longitude float64) string {
	return MAP_LINK_BASE +
		strconv.FormatFloat(latitude, 'f', -1, 64) + "," +
		strconv.FormatFloat(longitude, 'f', -1, 64)
}

// ---------------------------------------------------------------------------------//
// Helper functions
// --------------------------------------------------------------------------------//

// fanout runs one burst per destination concurrently. There is no caller
// to cancel it, each send is bounded by the gateway's own timeout.
func (d *Dispatcher) fanout(alertID uint, destinations []string, body string) {
	if len(destinations) == 0 {
		d.logWarnf("alert %v has no destination to notify", alertID)
		return
	}

	if d.channel == nil || !d.channel.Configured() {
		d.logError(errors.Wrapf(ErrGatewayUnavailable, "alert %v", alertID))
		return
	}

	var mu sync.Mutex
	var failures error

	group, ctx := errgroup.WithContext(context.Background())
	for _, destination := range destinations {
		destination := destination
		group.Go(func() error {
			err := work.Burst(ctx, d.attempts, d.interval, func(attempt int) error {
				sid, err := d.channel.Send(d.from, destination, body)
				if err != nil {
					return errors.Wrapf(err, "attempt %v to %v", attempt, destination)
				}

				d.logInfof("alert %v attempt %v to %v accepted (sid=%v)", alertID, attempt, destination, sid)
				return nil
			})

			mu.Lock()
			failures = multierr.Append(failures, err)
			mu.Unlock()

			// Returning nil keeps one destination's failures from cancelling the rest.
			return nil
		})
	}
	group.Wait()

	if failures != nil {
		errs := multierr.Errors(failures)
		d.logError(fmt.Sprintf("alert %v: %v send attempt(s) failed: ", alertID, len(errs)), failures)
		return
	}

	d.logInfof("alert %v delivered to all %v destination(s)", alertID, len(destinations))
}

func newAlertRecord(user *models.User, location *Location, at time.Time, category string, destinations []string) *models.Alert {
	alert := &models.Alert{
		UserID:      user.ID,
		Username:    user.Username,
		FirstName:   user.FirstName,
		LastName:    user.LastName,
		PhoneNumber: user.PhoneNumber,
		Email:       user.Email,
		Nationality: user.Nationality,
		TriggeredAt: at,
		Status:      models.ACTIVE_ALERT,
		Category:    category,
	}

	if location != nil {
		latitude, longitude := location.Latitude, location.Longitude
		alert.Latitude = &latitude
		alert.Longitude = &longitude
		if location.Accuracy != nil {
			accuracy := *location.Accuracy
			alert.Accuracy = &accuracy
		}
	}

	for i, destination := range destinations {
		alert.NotifiedContacts = append(alert.NotifiedContacts, models.AlertContact{
			PhoneNumber: destination,
			Position:    i,
		})
	}

	return alert
}

func (d *Dispatcher) logInfof(template string, args ...interface{}) {
	d.logg.Infof(colors.Yellow("[alert dispatcher] ")+template, args...)
}

func (d *Dispatcher) logWarnf(template string, args ...interface{}) {
	d.logg.Warnf(colors.Yellow("[alert dispatcher] ")+template, args...)
}

func (d *Dispatcher) logError(args ...interface{}) {
	d.logg.Error(append([]interface{}{colors.Red("[alert dispatcher] ")}, args...)...)
}
