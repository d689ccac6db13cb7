// Package nodeops exposes the daemon's built-in service methods: liveness,
// build identification, and lightweight runtime statistics.
package nodeops

import (
	"runtime"
	"time"

	"switchboard/go-daemon/pkg/dispatch"
)

// BuildInfo carries the values stamped in at link time.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

// Service implements the service.* method family.
type Service struct {
	build     BuildInfo
	startedAt time.Time
}

func NewService(build BuildInfo) *Service {
	if build.Version == "" {
		build.Version = "dev"
	}
	return &Service{build: build, startedAt: time.Now()}
}

// VersionInfo is the wire shape of service.version.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

// StatsInfo is the wire shape of service.stats.
type StatsInfo struct {
	StartedAt      time.Time `json:"started_at"`
	UptimeSeconds  float64   `json:"uptime_seconds"`
	Goroutines     int       `json:"goroutines"`
	HeapAllocBytes uint64    `json:"heap_alloc_bytes"`
}

func (s *Service) Ping() string {
	return "pong"
}

func (s *Service) Version() VersionInfo {
	return VersionInfo{
		Version:   s.build.Version,
		Commit:    s.build.Commit,
		BuildDate: s.build.BuildDate,
	}
}

func (s *Service) Uptime() float64 {
	return time.Since(s.startedAt).Seconds()
}

func (s *Service) Echo(message string) string {
	return message
}

func (s *Service) Stats() StatsInfo {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return StatsInfo{
		StartedAt:      s.startedAt,
		UptimeSeconds:  time.Since(s.startedAt).Seconds(),
		Goroutines:     runtime.NumGoroutine(),
		HeapAllocBytes: mem.HeapAlloc,
	}
}

// Methods describes the service.* family for registration.
func (s *Service) Methods() []dispatch.Method {
	return []dispatch.Method{
		{
			Name:      "service.ping",
			Func:      s.Ping,
			Signature: []string{"string"},
			Doc:       "Returns \"pong\" while the daemon is alive.",
		},
		{
			Name:      "service.version",
			Func:      s.Version,
			Signature: []string{"struct"},
			Doc:       "Reports the daemon's version, commit, and build date.",
		},
		{
			Name:      "service.uptime",
			Func:      s.Uptime,
			Signature: []string{"double"},
			Doc:       "Seconds elapsed since the daemon started.",
		},
		{
			Name:      "service.echo",
			Func:      s.Echo,
			Params:    []string{"message"},
			Signature: []string{"string", "string"},
			Doc:       "Returns the message unchanged.",
		},
		{
			Name:       "service.stats",
			Func:       s.Stats,
			Signature:  []string{"struct"},
			Doc:        "Runtime statistics for operators.",
			Permission: "operator",
		},
	}
}
