// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package sysmonitor samples host CPU/memory/load via gopsutil on a fixed
// cadence, retains the samples in a CSV log with a 30-day window, and
// reports nginx/fail2ban liveness for the control-plane's system snapshot.
// Grounded on the original implementation's system_monitor.py: same
// sample shape, same cache TTLs, same backup-before-rewrite retention
// sweep.
package sysmonitor

import (
	"context"
	"encoding/csv"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/nginxshield/nginxshield/internal/fail2ban"
)

// Sample is one recorded host-resource data point, shaped per spec.md §4.7's
// SystemSample{timestamp, cpu_percent, ram_percent, temperature_c}.
type Sample struct {
	Timestamp    time.Time `json:"timestamp"`
	CPUUsage     float64   `json:"cpu_percent"`
	RAMUsage     float64   `json:"ram_percent"`
	TemperatureC float64   `json:"temperature_c"`
}

// Snapshot is the live system status returned to the control plane.
type Snapshot struct {
	CPUUsage      float64       `json:"cpu_percent"`
	CPUCores      int           `json:"cpu_cores"`
	RAMUsage      float64       `json:"ram_percent"`
	RAMTotalBytes uint64        `json:"ram_total_bytes"`
	RAMUsedBytes  uint64        `json:"ram_used_bytes"`
	TemperatureC  float64       `json:"temperature_c"`
	Load1         float64       `json:"load1"`
	Load5         float64       `json:"load5"`
	Load15        float64       `json:"load15"`
	Fail2BanAlive bool          `json:"fail2ban_alive"`
	NginxAlive    bool          `json:"nginx_alive"`
	Uptime        time.Duration `json:"uptime"`
}

const (
	retentionWindow = 30 * 24 * time.Hour
	serviceCacheTTL = 5 * time.Second
	tempCacheTTL    = 2 * time.Second
)

// preferredTempSensors mirrors the original monitor's sensor-key
// preference order: coretemp/k10temp on x86, cpu_thermal/soc_thermal on
// ARM SBCs, falling back to whatever sensor the host reports first.
var preferredTempSensors = []string{"coretemp", "k10temp", "cpu_thermal", "soc_thermal"}

// Monitor owns the periodic sampler, CSV retention file, and liveness
// checks for nginx and fail2ban.
type Monitor struct {
	csvPath  string
	f2b      *fail2ban.Client
	nginxTCP string // host:port TCP liveness probe, e.g. "127.0.0.1:80"

	mu            sync.Mutex
	fail2banCache struct {
		at    time.Time
		alive bool
	}
	nginxCache struct {
		at    time.Time
		alive bool
	}
	tempCache struct {
		at    time.Time
		value float64
	}
	tempSensorKey string // cached once the host's sensor map has been probed
}

// New builds a Monitor writing samples to csvPath, checking fail2ban via
// f2b and nginx liveness via a TCP dial to nginxTCP.
func New(csvPath string, f2b *fail2ban.Client, nginxTCP string) *Monitor {
	return &Monitor{csvPath: csvPath, f2b: f2b, nginxTCP: nginxTCP}
}

// Snapshot collects a live reading of CPU, memory, load, uptime, and service
// liveness — suitable for the control-plane's "system" endpoint.
func (m *Monitor) Snapshot(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{}

	cpuPercent, err := cpu.PercentWithContext(ctx, 0, false)
	if err == nil && len(cpuPercent) > 0 {
		snap.CPUUsage = cpuPercent[0]
	}
	if cores, err := cpu.CountsWithContext(ctx, true); err == nil {
		snap.CPUCores = cores
	}

	if memInfo, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		snap.RAMUsage = memInfo.UsedPercent
		snap.RAMTotalBytes = memInfo.Total
		snap.RAMUsedBytes = memInfo.Used
	}

	if loadAvg, err := load.AvgWithContext(ctx); err == nil {
		snap.Load1 = loadAvg.Load1
		snap.Load5 = loadAvg.Load5
		snap.Load15 = loadAvg.Load15
	}

	if up, err := host.UptimeWithContext(ctx); err == nil {
		snap.Uptime = time.Duration(up) * time.Second
	}

	snap.TemperatureC = m.getCPUTemperature(ctx)
	snap.Fail2BanAlive = m.checkFail2Ban(ctx)
	snap.NginxAlive = m.checkNginx(ctx)

	return snap, nil
}

// getCPUTemperature reads the host's CPU temperature sensor, caching both
// the resolved sensor key and the reading itself for tempCacheTTL. Mirrors
// the original monitor's _get_cpu_temperature: prefer a known CPU sensor
// key, fall back to the first sensor the host reports, and settle for 0 if
// the platform exposes none (containers, VMs without hwmon passthrough).
func (m *Monitor) getCPUTemperature(ctx context.Context) float64 {
	m.mu.Lock()
	if time.Since(m.tempCache.at) < tempCacheTTL {
		v := m.tempCache.value
		m.mu.Unlock()
		return v
	}
	sensorKey := m.tempSensorKey
	m.mu.Unlock()

	temps, err := host.SensorsTemperaturesWithContext(ctx)
	if err != nil || len(temps) == 0 {
		m.mu.Lock()
		m.tempCache.at = time.Now()
		m.tempCache.value = 0
		m.mu.Unlock()
		return 0
	}

	byKey := make(map[string][]host.TemperatureStat, len(temps))
	for _, t := range temps {
		byKey[t.SensorKey] = append(byKey[t.SensorKey], t)
	}

	if sensorKey == "" {
		for _, candidate := range preferredTempSensors {
			if _, ok := byKey[candidate]; ok {
				sensorKey = candidate
				break
			}
		}
		if sensorKey == "" {
			sensorKey = temps[0].SensorKey
		}
	}

	value := 0.0
	for _, t := range byKey[sensorKey] {
		if t.Temperature > value {
			value = t.Temperature
		}
	}

	m.mu.Lock()
	m.tempSensorKey = sensorKey
	m.tempCache.at = time.Now()
	m.tempCache.value = value
	m.mu.Unlock()
	return value
}

func (m *Monitor) checkFail2Ban(ctx context.Context) bool {
	m.mu.Lock()
	if time.Since(m.fail2banCache.at) < serviceCacheTTL {
		alive := m.fail2banCache.alive
		m.mu.Unlock()
		return alive
	}
	m.mu.Unlock()

	alive := false
	if m.f2b != nil {
		res, err := m.f2b.Ping(ctx)
		alive = err == nil && res.Success
	}

	m.mu.Lock()
	m.fail2banCache.at = time.Now()
	m.fail2banCache.alive = alive
	m.mu.Unlock()
	return alive
}

func (m *Monitor) checkNginx(ctx context.Context) bool {
	m.mu.Lock()
	if time.Since(m.nginxCache.at) < serviceCacheTTL {
		alive := m.nginxCache.alive
		m.mu.Unlock()
		return alive
	}
	m.mu.Unlock()

	alive := false
	if m.nginxTCP != "" {
		d := net.Dialer{Timeout: 1 * time.Second}
		conn, err := d.DialContext(ctx, "tcp", m.nginxTCP)
		if err == nil {
			alive = true
			conn.Close()
		}
	}

	m.mu.Lock()
	m.nginxCache.at = time.Now()
	m.nginxCache.alive = alive
	m.mu.Unlock()
	return alive
}

// RecordSample appends one sample to the CSV log, creating the file with
// a header row if it doesn't already exist.
func (m *Monitor) RecordSample(s Sample) error {
	if err := os.MkdirAll(filepath.Dir(m.csvPath), 0o755); err != nil {
		return fmt.Errorf("sysmonitor: preparing log directory: %w", err)
	}

	needsHeader := false
	if info, err := os.Stat(m.csvPath); err != nil || info.Size() == 0 {
		needsHeader = true
	}

	f, err := os.OpenFile(m.csvPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("sysmonitor: opening log file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if needsHeader {
		if err := w.Write([]string{"timestamp", "cpu_usage", "ram_usage", "temperature_c"}); err != nil {
			return fmt.Errorf("sysmonitor: writing header: %w", err)
		}
	}
	record := []string{
		s.Timestamp.Format(time.RFC3339),
		strconv.FormatFloat(s.CPUUsage, 'f', 2, 64),
		strconv.FormatFloat(s.RAMUsage, 'f', 2, 64),
		strconv.FormatFloat(s.TemperatureC, 'f', 2, 64),
	}
	if err := w.Write(record); err != nil {
		return fmt.Errorf("sysmonitor: writing record: %w", err)
	}
	w.Flush()
	return w.Error()
}

// Cleanup drops samples older than the retention window, backing up the
// log first and restoring the backup if the rewrite fails partway.
func (m *Monitor) Cleanup(now time.Time) (keptRecords int, err error) {
	if _, statErr := os.Stat(m.csvPath); os.IsNotExist(statErr) {
		return 0, nil
	}

	backupPath := m.csvPath + ".backup"
	if err := copyFile(m.csvPath, backupPath); err != nil {
		return 0, fmt.Errorf("sysmonitor: backing up log: %w", err)
	}

	kept, rewriteErr := m.rewriteRetained(now)
	if rewriteErr != nil {
		// Best-effort restore so a failed rewrite never destroys history.
		_ = copyFile(backupPath, m.csvPath)
		os.Remove(backupPath)
		return 0, fmt.Errorf("sysmonitor: cleaning up log: %w", rewriteErr)
	}

	os.Remove(backupPath)
	return kept, nil
}

func (m *Monitor) rewriteRetained(now time.Time) (int, error) {
	in, err := os.Open(m.csvPath)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	r := csv.NewReader(in)
	r.FieldsPerRecord = -1 // tolerate pre-upgrade rows recorded without temperature_c
	header, err := r.Read()
	if err != nil {
		return 0, err
	}

	tmpPath := m.csvPath + ".tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return 0, err
	}
	w := csv.NewWriter(out)
	if err := w.Write(header); err != nil {
		out.Close()
		return 0, err
	}

	cutoff := now.Add(-retentionWindow)
	kept := 0
	for {
		row, err := r.Read()
		if err != nil {
			break
		}
		if len(row) == 0 {
			continue
		}
		ts, err := time.Parse(time.RFC3339, row[0])
		if err != nil || ts.Before(cutoff) {
			continue
		}
		if err := w.Write(row); err != nil {
			out.Close()
			return 0, err
		}
		kept++
	}
	w.Flush()
	if err := w.Error(); err != nil {
		out.Close()
		return 0, err
	}
	if err := out.Close(); err != nil {
		return 0, err
	}

	if err := os.Rename(tmpPath, m.csvPath); err != nil {
		return 0, err
	}
	return kept, nil
}

// History returns the samples within the given lookback window, oldest
// first.
func (m *Monitor) History(since time.Time) ([]Sample, error) {
	f, err := os.Open(m.csvPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sysmonitor: opening log file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1 // tolerate pre-upgrade rows recorded without temperature_c
	if _, err := r.Read(); err != nil { // header
		return nil, nil
	}

	var out []Sample
	for {
		row, err := r.Read()
		if err != nil {
			break
		}
		if len(row) < 3 {
			continue
		}
		ts, err := time.Parse(time.RFC3339, row[0])
		if err != nil || ts.Before(since) {
			continue
		}
		cpuUsage, _ := strconv.ParseFloat(row[1], 64)
		ramUsage, _ := strconv.ParseFloat(row[2], 64)
		var temp float64
		if len(row) >= 4 {
			temp, _ = strconv.ParseFloat(row[3], 64)
		}
		out = append(out, Sample{Timestamp: ts, CPUUsage: cpuUsage, RAMUsage: ramUsage, TemperatureC: temp})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
