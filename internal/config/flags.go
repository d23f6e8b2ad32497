// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt
package config

import "flag"

var (
	workDirFlag string

	// Path is the monitor configuration file.
	Path string
)

func init() {
	flag.StringVar(&workDirFlag, "w", "",
		"The working directory; overrides the "+WorkDirEnv+" environment variable",
	)
	flag.StringVar(&Path, "config", "afdmon.yaml",
		"Path to the monitor configuration file",
	)
}
