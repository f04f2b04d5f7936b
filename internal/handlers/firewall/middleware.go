// Package firewall counts suspicious requests per client IP and bans
// repeat offenders on the network firewall.
package firewall

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	zlog "github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	fw "github.com/charleshuang3/firewall"
	"github.com/charleshuang3/firewall/gcplog"
	"github.com/charleshuang3/firewall/ipgeo"
	"github.com/charleshuang3/firewall/opn"
	"github.com/charleshuang3/firewall/pf"
	"github.com/charleshuang3/firewall/ros"
	"github.com/charleshuang3/firewall/zerolog"
)

var (
	logger = log.With().Str("component", "firewall").Logger()
)

type ForgivableError struct {
	DurationInMinute uint `yaml:"duration_in_minute"`
	Count            uint `yaml:"count"`
}

type FirewallConfig struct {
	Provider         string          `yaml:"provider"`
	ProviderIP       string          `yaml:"provider_ip"`
	ProviderUser     string          `yaml:"provider_user"`
	ProviderPassword string          `yaml:"provider_password"`
	ListUUID         string          `yaml:"list_uuid"`
	BanMinutes       uint            `yaml:"ban_minutes"`
	Whitelist        []string        `yaml:"whitelist"`
	Forgivable       ForgivableError `yaml:"forgivable"`

	CityDBFile        string `yaml:"city_db_file"`
	UpdatedCityDBFile string `yaml:"updated_city_db_file"`
	ASNDBFile         string `yaml:"asn_db_file"`
	UpdatedASNDBFile  string `yaml:"updated_asn_db_file"`

	GoogleKeyFile   string `yaml:"google_key_file"`
	GoogleProjectID string `yaml:"google_project_id"`
}

var (
	supportedProviders = []string{"none", "ros", "opn", "pf"}
)

const (
	defaultBanMinutes       = 10
	defaultDurationInMinute = 10
	defaultCount            = 3

	logName = "authsession"

	keySuspicious = "SUSPICIOUS_REQUEST"
)

func (c *FirewallConfig) Validate() error {
	if !slices.Contains(supportedProviders, c.Provider) {
		return fmt.Errorf("firewall: provider %q is not supported", c.Provider)
	}

	if c.Provider != "none" {
		if c.ProviderIP == "" || c.ProviderUser == "" || c.ProviderPassword == "" {
			return errors.New("firewall: provider_ip, provider_user and provider_password are required")
		}
		if c.Provider == "opn" && c.ListUUID == "" {
			return errors.New("firewall: list_uuid is required for opn")
		}
	}

	if c.CityDBFile == "" || c.UpdatedCityDBFile == "" {
		return errors.New("firewall: city_db_file and updated_city_db_file are required")
	}
	if c.ASNDBFile == "" || c.UpdatedASNDBFile == "" {
		return errors.New("firewall: asn_db_file and updated_asn_db_file are required")
	}

	c.applyDefault()
	return nil
}

func (c *FirewallConfig) applyDefault() {
	if c.BanMinutes == 0 {
		c.BanMinutes = defaultBanMinutes
	}

	if c.Forgivable.DurationInMinute == 0 {
		c.Forgivable.DurationInMinute = defaultDurationInMinute
	}

	if c.Forgivable.Count == 0 {
		c.Forgivable.Count = defaultCount
	}
}

type Firewall struct {
	fw   *fw.Firewall
	conf *FirewallConfig
}

func New(conf *FirewallConfig) (*Firewall, error) {
	var firewallProvider fw.IFirewall
	switch conf.Provider {
	case "ros":
		firewallProvider = ros.New(
			conf.ProviderIP, conf.ProviderUser, conf.ProviderPassword)
	case "pf":
		firewallProvider = pf.New(
			conf.ProviderIP, conf.ProviderUser, conf.ProviderPassword)
	case "opn":
		firewallProvider = opn.New(
			conf.ProviderIP, conf.ProviderUser, conf.ProviderPassword, conf.ListUUID)
	default:
		// keep firewallProvider nil which means no block on firewall
	}

	var fwlogger fw.ILogger
	if conf.GoogleKeyFile != "" {
		var err error
		fwlogger, err = gcplog.New(conf.GoogleKeyFile, conf.GoogleProjectID, logName)
		if err != nil {
			return nil, fmt.Errorf("failed to create gcp logger: %v", err)
		}
	} else {
		// fallback to local log if no google key file.
		fwlogger = zerolog.New(logger, zlog.InfoLevel, logName)
	}

	mm, err := ipgeo.NewAutoUpdateMMIPGeo(
		conf.CityDBFile,
		conf.UpdatedCityDBFile,
		conf.ASNDBFile,
		conf.UpdatedASNDBFile)
	if err != nil {
		return nil, fmt.Errorf("failed to create ip geo db: %v", err)
	}

	return &Firewall{
		fw: fw.New(
			conf.Whitelist,
			firewallProvider,
			fwlogger,
			mm,
			fw.ForgivableError{
				Duration:    time.Duration(conf.Forgivable.DurationInMinute) * time.Minute,
				Count:       int(conf.Forgivable.Count),
				BanInMinute: int(conf.BanMinutes),
			}),
		conf: conf,
	}, nil
}

// MarkSuspicious tags the request so the middleware counts an error against
// the client IP. Handlers call it for input an honest client never sends,
// such as forged or replayed tokens.
func MarkSuspicious(c *gin.Context, reason string) {
	c.Set(keySuspicious, c.FullPath()+" "+reason)
}

// SuspicionReason returns the reason given to MarkSuspicious, if any.
func SuspicionReason(c *gin.Context) (string, bool) {
	reason, ok := c.Get(keySuspicious)
	if !ok {
		return "", false
	}
	s, ok := reason.(string)
	return s, ok
}

func (f *Firewall) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// run handle
		c.Next()

		// after handler
		if reason, ok := SuspicionReason(c); ok {
			f.fw.LogIPError(c.ClientIP(), reason)
			return
		}

		// this means user request to url undefined in router.
		if c.Writer.Status() == http.StatusNotFound {
			f.fw.LogIPError(c.ClientIP(), "undefined_url")
			return
		}
	}
}
