// Command client is a small CLI for the cdsweb API: submit ERA5
// retrieval requests, inspect link status and fetch files by token.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var baseURL string

type linkResponse struct {
	Token          string    `json:"token"`
	URL            string    `json:"url"`
	Filename       string    `json:"filename"`
	Size           int64     `json:"size"`
	SizeHuman      string    `json:"size_human"`
	ExpiresAt      time.Time `json:"expires_at"`
	ExpiresInHours int       `json:"expires_in_hours"`
	MaxDownloads   int       `json:"max_downloads"`
	Cached         bool      `json:"cached"`
}

type statusResponse struct {
	Token              string    `json:"token"`
	Status             string    `json:"status"`
	Valid              bool      `json:"valid"`
	DownloadCount      int       `json:"download_count"`
	MaxDownloads       int       `json:"max_downloads"`
	RemainingDownloads int       `json:"remaining_downloads"`
	ExpiresAt          time.Time `json:"expires_at"`
	SizeHuman          string    `json:"size_human"`
}

var rootCmd = &cobra.Command{
	Use:   "cdsweb-client",
	Short: "Client for the cdsweb temporary download link service",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if !cmd.Flags().Changed("server") {
			if s := viper.GetString("server"); s != "" {
				baseURL = s
			}
		}
		baseURL = strings.TrimSuffix(baseURL, "/")
	},
}

var retrieveCmd = &cobra.Command{
	Use:   "retrieve",
	Short: "Submit an ERA5 retrieval request and get a download link",
	RunE: func(cmd *cobra.Command, args []string) error {
		req := map[string]any{
			"product_type": productType,
			"variable":     variables,
			"year":         years,
			"month":        months,
			"day":          days,
			"time":         times,
		}
		if len(pressureLevels) > 0 {
			req["pressure_level"] = pressureLevels
		}
		if len(area) > 0 {
			req["area"] = area
		}
		if format != "" {
			req["data_format"] = format
		}

		body, err := json.Marshal(req)
		if err != nil {
			return err
		}

		resp, err := http.Post(baseURL+"/api/retrieve", "application/json", bytes.NewReader(body))
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return apiError(resp)
		}

		var link linkResponse
		if err := json.NewDecoder(resp.Body).Decode(&link); err != nil {
			return err
		}

		fmt.Printf("Token:         %s\n", link.Token)
		fmt.Printf("URL:           %s\n", link.URL)
		fmt.Printf("File:          %s (%s)\n", link.Filename, link.SizeHuman)
		fmt.Printf("Expires:       %s (in %dh)\n", link.ExpiresAt.Format(time.RFC3339), link.ExpiresInHours)
		fmt.Printf("Max downloads: %d\n", link.MaxDownloads)
		if link.Cached {
			fmt.Println("Served from cache, no new retrieval was started.")
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <token>",
	Short: "Show the state of a download link",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := http.Get(baseURL + "/api/links/" + args[0])
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return apiError(resp)
		}

		var st statusResponse
		if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
			return err
		}

		fmt.Printf("Token:     %s\n", st.Token)
		fmt.Printf("Status:    %s (valid: %v)\n", st.Status, st.Valid)
		fmt.Printf("Downloads: %d/%d (%d remaining)\n", st.DownloadCount, st.MaxDownloads, st.RemainingDownloads)
		fmt.Printf("Expires:   %s\n", st.ExpiresAt.Format(time.RFC3339))
		fmt.Printf("Size:      %s\n", st.SizeHuman)
		return nil
	},
}

var outputPath string

var fetchCmd = &cobra.Command{
	Use:   "fetch <token>",
	Short: "Download the file behind a link token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := http.Get(baseURL + "/download/" + args[0])
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return apiError(resp)
		}

		out := outputPath
		if out == "" {
			out = filenameFromResponse(resp, args[0])
		}

		f, err := os.Create(out)
		if err != nil {
			return err
		}

		written, err := io.Copy(f, resp.Body)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(out)
			return err
		}

		fmt.Printf("Saved %s (%d bytes)\n", out, written)
		if remaining := resp.Header.Get("X-Downloads-Remaining"); remaining != "" {
			fmt.Printf("Downloads remaining: %s\n", remaining)
		}
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config <key> [value]",
	Short: "Get or set a client configuration value",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 2 {
			viper.Set(args[0], args[1])
			if err := viper.WriteConfig(); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}
			fmt.Printf("%s = %s\n", args[0], args[1])
			return nil
		}

		fmt.Printf("%s = %s\n", args[0], viper.GetString(args[0]))
		return nil
	},
}

// filenameFromResponse extracts the server-suggested filename, falling
// back to the token.
func filenameFromResponse(resp *http.Response, token string) string {
	cd := resp.Header.Get("Content-Disposition")
	if idx := strings.Index(cd, "filename="); idx >= 0 {
		name := strings.Trim(cd[idx+len("filename="):], "\"")
		if name != "" {
			return filepath.Base(name)
		}
	}
	return token + ".nc"
}

func apiError(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil && payload.Error != "" {
		return fmt.Errorf("%s: %s", resp.Status, payload.Error)
	}
	return fmt.Errorf("request failed: %s", resp.Status)
}

var (
	productType    string
	variables      []string
	pressureLevels []string
	years          []string
	months         []string
	days           []string
	times          []string
	area           []float64
	format         string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&baseURL, "server", "http://localhost:5000", "server base URL")

	retrieveCmd.Flags().StringVar(&productType, "product-type", "reanalysis", "CDS product type")
	retrieveCmd.Flags().StringSliceVar(&variables, "variable", nil, "variables to retrieve")
	retrieveCmd.Flags().StringSliceVar(&pressureLevels, "pressure-level", nil, "pressure levels (hPa)")
	retrieveCmd.Flags().StringSliceVar(&years, "year", nil, "years")
	retrieveCmd.Flags().StringSliceVar(&months, "month", nil, "months")
	retrieveCmd.Flags().StringSliceVar(&days, "day", nil, "days")
	retrieveCmd.Flags().StringSliceVar(&times, "time", nil, "times of day (HH:MM)")
	retrieveCmd.Flags().Float64SliceVar(&area, "area", nil, "bounding box: north,west,south,east")
	retrieveCmd.Flags().StringVar(&format, "format", "", "data format (netcdf or grib)")

	fetchCmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file path")

	rootCmd.AddCommand(retrieveCmd, statusCmd, fetchCmd, configCmd)

	initConfig()
}

func initConfig() {
	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = "."
	}
	configDir = filepath.Join(configDir, "cdsweb-client")
	os.MkdirAll(configDir, 0o755)

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")
	viper.ReadInConfig() // Ignore errors if config file doesn't exist
	viper.SetConfigFile(filepath.Join(configDir, "config.yaml"))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
