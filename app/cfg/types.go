package cfg

import "time"

type Cfg struct {
	// Pipeline configuration
	OutputPath   string
	SourcesFile  string
	RequestDelay time.Duration
	Timeout      time.Duration
	MaxItems     int
	AllowEmpty   bool
	HistoryDB    string

	// Serve mode
	Serve        bool
	Port         string
	Interval     time.Duration
	APIAccessKey string

	// Application metadata
	UserAgent string
	Timezone  string
	Debug     bool
	Version   string
}
