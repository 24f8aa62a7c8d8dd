package capability

import (
	"fmt"

	"github.com/hashicorp/go-version"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("module", "capability")

// Rules maps each optional feature to a firmware version constraint such as
// ">= 18.99.3". An empty rule enables the feature unconditionally and "none"
// disables it.
type Rules struct {
	SAE            string `yaml:"sae"`
	OWE            string `yaml:"owe"`
	Enterprise     string `yaml:"enterprise"`
	Roaming        string `yaml:"roaming"`
	NeighborReport string `yaml:"neighborReport"`
	HostSleep      string `yaml:"hostSleep"`
	WNM            string `yaml:"wnm"`
}

// Capabilities is resolved once at startup and never changes afterwards
type Capabilities struct {
	Firmware       string
	SAE            bool
	OWE            bool
	Enterprise     bool
	Roaming        bool
	NeighborReport bool
	HostSleep      bool
	WNM            bool
}

// Resolve evaluates rules against the firmware version string
func Resolve(firmware string, rules Rules) (Capabilities, error) {
	caps := Capabilities{Firmware: firmware}

	fw, err := version.NewVersion(firmware)
	if err != nil {
		return caps, fmt.Errorf("parse firmware version %q: %w", firmware, err)
	}

	features := []struct {
		name string
		rule string
		dst  *bool
	}{
		{"sae", rules.SAE, &caps.SAE},
		{"owe", rules.OWE, &caps.OWE},
		{"enterprise", rules.Enterprise, &caps.Enterprise},
		{"roaming", rules.Roaming, &caps.Roaming},
		{"neighbor-report", rules.NeighborReport, &caps.NeighborReport},
		{"host-sleep", rules.HostSleep, &caps.HostSleep},
		{"wnm", rules.WNM, &caps.WNM},
	}

	for _, f := range features {
		enabled, err := evaluate(fw, f.rule)
		if err != nil {
			return caps, fmt.Errorf("feature %s: %w", f.name, err)
		}
		*f.dst = enabled
		logger.WithFields(logrus.Fields{
			"feature":  f.name,
			"rule":     f.rule,
			"firmware": firmware,
			"enabled":  enabled,
		}).Debug("Resolved capability")
	}

	// Neighbor reports only feed the roaming path
	if !caps.Roaming {
		caps.NeighborReport = false
	}
	return caps, nil
}

func evaluate(fw *version.Version, rule string) (bool, error) {
	switch rule {
	case "":
		return true, nil
	case "none":
		return false, nil
	}
	c, err := version.NewConstraint(rule)
	if err != nil {
		return false, fmt.Errorf("invalid constraint %q: %w", rule, err)
	}
	return c.Check(fw), nil
}
