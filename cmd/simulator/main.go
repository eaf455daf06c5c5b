package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/viyulabs/presence-server/internal/models"
)

// labGroup describes one simulated lab full of PCs.
type labGroup struct {
	Prefix string
	Room   string
	Count  int
}

var activeLabs = []labGroup{
	{Prefix: "CSE-DS", Room: "Data Structures Lab", Count: 10},
	{Prefix: "IT-WEB", Room: "Web Development Lab", Count: 8},
	{Prefix: "MBA-CL", Room: "Computer Lab", Count: 5},
	{Prefix: "ARCH-DS1", Room: "Design Studio 1", Count: 3},
}

// The simulator floods the backend with heartbeats for a fleet of fake lab
// PCs, for exercising dashboards and the expiry path without hardware.
func main() {
	serverURL := flag.String("server", "http://localhost:5000", "presence backend base URL")
	interval := flag.Duration("interval", 5*time.Second, "delay between heartbeat batches")
	secret := flag.String("secret", os.Getenv("PRESENCE_DEVICE_SECRET"), "shared device secret")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()

	if *secret == "" {
		logger.Fatal().Msg("No device secret: pass -secret or set PRESENCE_DEVICE_SECRET")
	}

	client := &http.Client{Timeout: 5 * time.Second}

	logger.Info().Str("server", *serverURL).Msg("Starting lab simulator")

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		sent := 0
		for _, lab := range activeLabs {
			for i := 1; i <= lab.Count; i++ {
				deviceID := fmt.Sprintf("%s-%02d", lab.Prefix, i)
				go sendPing(client, *serverURL, *secret, deviceID, lab.Room, logger)
				sent++
			}
		}
		logger.Info().Int("devices", sent).Msg("Batch pings sent")

		select {
		case <-ticker.C:
		case <-stopCh:
			logger.Info().Msg("Simulator stopped")
			return
		}
	}
}

func sendPing(client *http.Client, serverURL, secret, deviceID, room string, logger zerolog.Logger) {
	payload, err := json.Marshal(models.Heartbeat{
		DeviceID: deviceID,
		RoomNo:   room,
		Type:     models.DeviceTypePC,
	})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to serialize heartbeat")
		return
	}

	req, err := http.NewRequest(http.MethodPost, serverURL+"/api/heartbeat", bytes.NewReader(payload))
	if err != nil {
		logger.Error().Err(err).Msg("Failed to build request")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Device-Token", secret)

	resp, err := client.Do(req)
	if err != nil {
		logger.Debug().Err(err).Str("device_id", deviceID).Msg("Heartbeat failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logger.Debug().Str("device_id", deviceID).Str("status", resp.Status).Msg("Heartbeat rejected")
	}
}
