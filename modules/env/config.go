// Copyright ©️ Replit Takeout Contributors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package env

import (
	"time"

	"github.com/hackclub/replit-lifeboat/modules/strengthen"
)

// Config holds the tunables named in the downloader's configuration table.
// All fields have defaults and may be overridden by environment variables.
type Config struct {
	BucketWidthSeconds int64
	MaxFileParallelism int
	FileSizeCapBytes   int64
	ReplTimeout        time.Duration

	R2AccountID  string
	R2AccessKey  string
	R2SecretKey  string
	R2Bucket     string
	R2Endpoint   string
	AirtableKey  string
	AirtableBase string
	LoopsAPIKey  string
}

const (
	defaultBucketWidthSeconds = 3600
	defaultMaxFileParallelism = 20
	defaultFileSizeCapBytes   = 50 * 1024 * 1024
	defaultReplTimeout        = 30 * time.Minute
)

// LoadConfig reads the configuration table from the process environment,
// falling back to the spec-mandated defaults for anything unset.
func LoadConfig() (*Config, error) {
	bucketWidth, err := GetInt("BUCKET_WIDTH_SECONDS", defaultBucketWidthSeconds)
	if err != nil {
		return nil, err
	}
	maxParallel, err := GetInt("MAX_FILE_PARALLELISM", defaultMaxFileParallelism)
	if err != nil {
		return nil, err
	}
	sizeCap := int64(defaultFileSizeCapBytes)
	if s := GetString("FILE_SIZE_CAP_BYTES", ""); s != "" {
		v, err := strengthen.ParseSize(s)
		if err != nil {
			return nil, err
		}
		sizeCap = v
	}
	timeout, err := GetDuration("REPL_TIMEOUT", defaultReplTimeout)
	if err != nil {
		return nil, err
	}
	return &Config{
		BucketWidthSeconds: int64(bucketWidth),
		MaxFileParallelism: maxParallel,
		FileSizeCapBytes:   sizeCap,
		ReplTimeout:        timeout,
		R2AccountID:        GetString("R2_ACCOUNT_ID", ""),
		R2AccessKey:        GetString("R2_ACCESS_KEY_ID", ""),
		R2SecretKey:        GetString("R2_SECRET_ACCESS_KEY", ""),
		R2Bucket:           GetString("R2_BUCKET", ""),
		R2Endpoint:         GetString("R2_ENDPOINT", ""),
		AirtableKey:        GetString("AIRTABLE_API_KEY", ""),
		AirtableBase:       GetString("AIRTABLE_BASE_ID", ""),
		LoopsAPIKey:        GetString("LOOPS_API_KEY", ""),
	}, nil
}
