package shared

type ServerConfig struct {
	Sqlite   SqliteConfig   `mapstructure:"sqlite" validate:"required"`
	Sentinel SentinelConfig `mapstructure:"sentinel" validate:"required"`
	Twilio   TwilioConfig   `mapstructure:"twilio"`
	Alerts   AlertsConfig   `mapstructure:"alerts" validate:"required"`
	Security SecurityConfig `mapstructure:"security"`
	Google   GoogleConfig   `mapstructure:"google"`
}

type SqliteConfig struct {
	PassPhrase string `mapstructure:"passPhrase" validate:"required"`
}

type SentinelConfig struct {
	PrivateKeyPem string         `mapstructure:"privateKeyPem" validate:"required"`
	TimeZone      string         `mapstructure:"timeZone" validate:"required"`
	Listener      ListenerConfig `mapstructure:"listener" validate:"required"`
}

type ListenerConfig struct {
	Port int `mapstructure:"port" validate:"required"`
}

// TwilioConfig may be left empty, in which case alerts are still recorded
// but no SMS is sent.
type TwilioConfig struct {
	AccountSid          string `mapstructure:"accountSid"`
	AuthToken           string `mapstructure:"authToken"`
	MessagingServiceSid string `mapstructure:"messagingServiceSid"`
	FromNumber          string `mapstructure:"fromNumber"`
}

type AlertsConfig struct {
	EmergencyNumber      string `mapstructure:"emergencyNumber" validate:"required"`
	DefaultCountryCode   string `mapstructure:"defaultCountryCode" validate:"omitempty,numeric"`
	BurstAttempts        int    `mapstructure:"burstAttempts" validate:"omitempty,min=1,max=10"`
	BurstIntervalSeconds int    `mapstructure:"burstIntervalSeconds" validate:"omitempty,min=0,max=60"`
	Category             string `mapstructure:"category"`
}

type SecurityConfig struct {
	BcryptCost int `mapstructure:"bcryptCost" validate:"omitempty,min=4,max=31"`
}

type GoogleConfig struct {
	ApplicationCredentials string        `mapstructure:"applicationCredentials"`
	Storage                StorageConfig `mapstructure:"storage"`
}

type StorageConfig struct {
	Bucket                    string `mapstructure:"bucket" validate:"required_with=EnableSqliteBackupAndSync"`
	Prefix                    string `mapstructure:"prefix" validate:"required_with=EnableSqliteBackupAndSync"`
	SqliteBackupSchedule      string `mapstructure:"sqliteBackupSchedule" validate:"required_with=EnableSqliteBackupAndSync"`
	EnableSqliteBackupAndSync bool   `mapstructure:"enableSqliteBackupAndSync"`
}
