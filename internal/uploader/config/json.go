package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/nexusfield/uploadq/internal/flagx"
	"github.com/nexusfield/uploadq/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling.
// It relies on timex.Duration so JSON can specify intervals either as
// strings like "15s" or as integer nanoseconds. After parsing, values
// are copied into the runtime Config (which uses time.Duration).
type JsonConfig struct {
	OriginURL           string            `json:"origin_url"`
	DataDir             string            `json:"data_dir"`
	OnlineCheckInterval timex.Duration    `json:"online_check_interval"`
	RequestTimeout      timex.Duration    `json:"request_timeout"`
	BackgroundTimeout   timex.Duration    `json:"background_timeout"`
	TokenLeeway         timex.Duration    `json:"token_leeway"`
	LargeFileThreshold  int64             `json:"large_file_threshold"`
	VideoThreshold      int64             `json:"video_threshold"`
	ExtraFields         map[string]string `json:"extra_fields"`
}

// parseJson overlays Config with values loaded from a JSON file.
//
// Lookup order for the JSON file path:
//  1. Command-line flags (-c or -config) via flagx.JsonConfigFlags().
//  2. If empty, no JSON is loaded and the function returns.
//
// Behavior:
//   - Reads and unmarshals the JSON into JsonConfig.
//   - Copies set fields into the provided Config; absent fields keep their
//     earlier values.
//   - Panics on read or unmarshal errors (caller should recover if desired).
//
// Intended usage is: defaults -> parseJson -> parseFlags, where later stages
// override earlier ones.
func parseJson(cfg *Config) {
	// Resolve file path from flags.
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	applyJson(cfg, &jc)
}

func applyJson(cfg *Config, jc *JsonConfig) {
	if jc.OriginURL != "" {
		cfg.OriginURL = jc.OriginURL
	}
	if jc.DataDir != "" {
		cfg.DataDir = jc.DataDir
	}
	if jc.OnlineCheckInterval.Duration != 0 {
		cfg.OnlineCheckInterval = time.Duration(jc.OnlineCheckInterval.Duration)
	}
	if jc.RequestTimeout.Duration != 0 {
		cfg.RequestTimeout = time.Duration(jc.RequestTimeout.Duration)
	}
	if jc.BackgroundTimeout.Duration != 0 {
		cfg.BackgroundTimeout = time.Duration(jc.BackgroundTimeout.Duration)
	}
	if jc.TokenLeeway.Duration != 0 {
		cfg.TokenLeeway = time.Duration(jc.TokenLeeway.Duration)
	}
	if jc.LargeFileThreshold != 0 {
		cfg.LargeFileThreshold = jc.LargeFileThreshold
	}
	if jc.VideoThreshold != 0 {
		cfg.VideoThreshold = jc.VideoThreshold
	}
	for k, v := range jc.ExtraFields {
		cfg.ExtraFields[k] = v
	}
}
