package replica

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ID identifies one of the two redundant replicas. The zero value means "none".
type ID int

const (
	None ID = 0
	One  ID = 1
	Two  ID = 2
)

// All lists the valid replica ids in lookup order.
var All = [2]ID{One, Two}

func (id ID) Valid() bool {
	return id == One || id == Two
}

// Other returns the only other valid id. Invalid ids map to One.
func (id ID) Other() ID {
	if id == One {
		return Two
	}
	return One
}

func (id ID) String() string {
	return strconv.Itoa(int(id))
}

const keyPrefix = "db_server_"

// StatsKey is the shared store key holding the running stats of id.
func StatsKey(id ID) string {
	return keyPrefix + id.String()
}

// MainKey is the shared store key holding the frozen main selection.
const MainKey = keyPrefix + "main"

// Stats is the running connect latency of one replica. AverageConnectTime is in seconds.
type Stats struct {
	Count              int     `json:"count"`
	AverageConnectTime float64 `json:"connectTime"`
}

// Add folds one more sample into the incremental mean.
func (s Stats) Add(elapsedSeconds float64) Stats {
	return Stats{
		Count:              s.Count + 1,
		AverageConnectTime: (s.AverageConnectTime*float64(s.Count) + elapsedSeconds) / float64(s.Count+1),
	}
}

func EncodeStats(s Stats) ([]byte, error) {
	return json.Marshal(s)
}

// DecodeStats never fails: absent or malformed values decode to zero stats.
func DecodeStats(raw []byte) Stats {
	if len(raw) == 0 {
		return Stats{}
	}
	var s Stats
	if err := json.Unmarshal(raw, &s); err != nil {
		return Stats{}
	}
	if s.Count < 0 || s.AverageConnectTime < 0 {
		return Stats{}
	}
	return s
}

func EncodeMain(id ID) []byte {
	return []byte(id.String())
}

// DecodeMain returns None for absent, zero or malformed values.
func DecodeMain(raw []byte) ID {
	v, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return None
	}
	id := ID(v)
	if !id.Valid() {
		return None
	}
	return id
}

// ParseID parses "1" or "2".
func ParseID(s string) (ID, error) {
	id := DecodeMain([]byte(s))
	if id == None {
		return None, fmt.Errorf("invalid replica id %q", s)
	}
	return id, nil
}

// Credentials are handed to the connection opener separately from the DSN.
type Credentials struct {
	Username string
	Password string
}

const DefaultCharset = "utf8"

// Config describes how to reach one replica.
type Config struct {
	Type     string `yaml:"type" json:"type"`
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Database string `yaml:"database" json:"database"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
	Charset  string `yaml:"charset" json:"charset,omitempty"`
}

func (c Config) Credentials() Credentials {
	return Credentials{Username: c.Username, Password: c.Password}
}

// CharsetOrDefault returns the configured charset, falling back to utf8.
func (c Config) CharsetOrDefault() string {
	if c.Charset == "" {
		return DefaultCharset
	}
	return c.Charset
}

// Target is everything an opener needs for one attempt.
type Target struct {
	Replica     ID
	Vendor      string
	DSN         string
	Credentials Credentials
}
