package stats

import (
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
)

type SystemInfo struct {
	Hostname  string `json:"hostname"`
	OSType    string `json:"os_type"`
	OSVersion string `json:"os_version"`
	Platform  string `json:"platform"`
	Arch      string `json:"arch"`
}

type NetworkInfo struct {
	PrimaryIP string   `json:"primary_ip"`
	PublicIP  string   `json:"public_ip,omitempty"`
	MAC       string   `json:"mac"`
	IPs       []string `json:"ips,omitempty"`
	NetworkRx uint64   `json:"network_rx"`
	NetworkTx uint64   `json:"network_tx"`
}

type HardwareInfo struct {
	CPUModel        string  `json:"cpu_model"`
	CPUCores        int     `json:"cpu_cores"`
	CPUUsagePercent float64 `json:"cpu_usage_percent"`
	MemTotal        uint64  `json:"mem_total"`
	MemUsed         uint64  `json:"mem_used"`
	MemUsedPercent  float64 `json:"mem_used_percent"`
	DiskTotal       uint64  `json:"disk_total"`
	DiskUsed        uint64  `json:"disk_used"`
	DiskUsedPercent float64 `json:"disk_used_percent"`
}

type RuntimeInfo struct {
	PID           int      `json:"pid"`
	UptimeSeconds uint64   `json:"uptime_seconds"`
	Env           []string `json:"env,omitempty"`
}

// Snapshot is one full host observation, assembled into each report.
type Snapshot struct {
	System      SystemInfo   `json:"system_info"`
	Network     NetworkInfo  `json:"network_info"`
	Hardware    HardwareInfo `json:"hardware_info"`
	Runtime     RuntimeInfo  `json:"runtime_info"`
	CollectedAt time.Time    `json:"collected_at"`
}

type Collector struct {
	startedAt time.Time
	lastNetRx uint64
	lastNetTx uint64
}

func NewCollector() *Collector {
	return &Collector{startedAt: time.Now()}
}

// Collect never fails outright: individual probe errors leave zero values
// behind so a degraded host still reports.
func (c *Collector) Collect() *Snapshot {
	snap := &Snapshot{CollectedAt: time.Now()}

	if hostInfo, err := host.Info(); err == nil {
		snap.System.Hostname = hostInfo.Hostname
		snap.System.OSType = hostInfo.OS
		snap.System.OSVersion = hostInfo.PlatformVersion
		snap.System.Platform = hostInfo.Platform
		snap.System.Arch = hostInfo.KernelArch
	}

	if cpuInfo, err := cpu.Info(); err == nil && len(cpuInfo) > 0 {
		snap.Hardware.CPUModel = cpuInfo[0].ModelName
	}
	if cores, err := cpu.Counts(true); err == nil {
		snap.Hardware.CPUCores = cores
	}
	if cpuPercent, err := cpu.Percent(time.Second, false); err == nil && len(cpuPercent) > 0 {
		snap.Hardware.CPUUsagePercent = cpuPercent[0]
	}

	if memInfo, err := mem.VirtualMemory(); err == nil {
		snap.Hardware.MemTotal = memInfo.Total
		snap.Hardware.MemUsed = memInfo.Used
		snap.Hardware.MemUsedPercent = memInfo.UsedPercent
	}

	if diskInfo, err := disk.Usage("/"); err == nil {
		snap.Hardware.DiskTotal = diskInfo.Total
		snap.Hardware.DiskUsed = diskInfo.Used
		snap.Hardware.DiskUsedPercent = diskInfo.UsedPercent
	}

	c.collectNetwork(snap)

	snap.Runtime.PID = os.Getpid()
	snap.Runtime.UptimeSeconds = uint64(time.Since(c.startedAt).Seconds())
	snap.Runtime.Env = os.Environ()

	return snap
}

func (c *Collector) collectNetwork(snap *Snapshot) {
	if ifaces, err := net.Interfaces(); err == nil {
		for _, iface := range ifaces {
			if isLoopback(iface) || len(iface.Addrs) == 0 {
				continue
			}
			for _, addr := range iface.Addrs {
				snap.Network.IPs = append(snap.Network.IPs, addr.Addr)
			}
			if snap.Network.PrimaryIP == "" {
				snap.Network.PrimaryIP = stripCIDR(iface.Addrs[0].Addr)
				snap.Network.MAC = iface.HardwareAddr
			}
		}
	}

	if netIO, err := net.IOCounters(false); err == nil && len(netIO) > 0 {
		snap.Network.NetworkRx = netIO[0].BytesRecv - c.lastNetRx
		snap.Network.NetworkTx = netIO[0].BytesSent - c.lastNetTx
		c.lastNetRx = netIO[0].BytesRecv
		c.lastNetTx = netIO[0].BytesSent
	}
}

func isLoopback(iface net.InterfaceStat) bool {
	for _, flag := range iface.Flags {
		if flag == "loopback" {
			return true
		}
	}
	return false
}

func stripCIDR(addr string) string {
	for i := 0; i < len(addr); i++ {
		if addr[i] == '/' {
			return addr[:i]
		}
	}
	return addr
}
