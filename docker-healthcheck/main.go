// Copyright (C) 2024 Christian Rößner
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// Command docker-healthcheck asks a running batchpost for its liveness answer on the metrics
// listener. It exits 0 when the answer is "pong".
package main

import (
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const batchpostURL = "http://127.0.0.1:9090/ping"

func main() {
	pflag.StringP("url", "u", batchpostURL, "batchpost ping url to test")
	pflag.BoolP("verbose", "v", false, "Be verbose")
	pflag.BoolP("tls-skip-verify", "t", false, "Skip TLS server certificate verification")
	pflag.Parse()

	_ = viper.BindPFlags(pflag.CommandLine)

	target := viper.GetString("url")
	verbose := viper.GetBool("verbose")

	if verbose {
		fmt.Println("Checking", target)
	}

	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: viper.GetBool("tls-skip-verify")},
		},
	}

	if err := check(client, target); err != nil {
		if verbose {
			fmt.Println("Test FAILED:", err)
		}

		os.Exit(1)
	}

	if verbose {
		fmt.Println("Test OK")
	}
}

func check(client *http.Client, target string) error {
	resp, err := client.Get(target)
	if err != nil {
		return err
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	content, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return err
	}

	if strings.ToLower(strings.TrimSpace(string(content))) != "pong" {
		return fmt.Errorf("unexpected answer %q", content)
	}

	return nil
}
