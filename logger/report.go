package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net" //cloudwatch

	"github.com/aws/aws-sdk-go-v2/aws"                              //cloudwatch
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types" //cloudwatch
)

type channelStat struct {
	messages int64
	bytes    int64
}

var (
	errorsRFQ   int64
	errorsPool  int64
	errorsVault int64
	warnsRFQ    int64
	warnsPool   int64
	warnsVault  int64
	rfqReads    int64
	poolReads   int64
	vaultReads  int64
	quotePosts  int64
	channels    sync.Map // map[string]*channelStat
)

func recordWarn(component string) {
	if strings.Contains(component, "rfq") {
		atomic.AddInt64(&warnsRFQ, 1)
	} else if strings.Contains(component, "pool") {
		atomic.AddInt64(&warnsPool, 1)
	} else if strings.Contains(component, "vault") {
		atomic.AddInt64(&warnsVault, 1)
	}
}

func recordError(component string) {
	if strings.Contains(component, "rfq") {
		atomic.AddInt64(&errorsRFQ, 1)
	} else if strings.Contains(component, "pool") {
		atomic.AddInt64(&errorsPool, 1)
	} else if strings.Contains(component, "vault") {
		atomic.AddInt64(&errorsVault, 1)
	}
}

func IncrementRFQRead(size int) {
	atomic.AddInt64(&rfqReads, 1)
	recordChannel("rfq_ws", size)
}

func IncrementPoolRead(size int) {
	atomic.AddInt64(&poolReads, 1)
	recordChannel("pool_poll", size)
}

func IncrementVaultRead(size int) {
	atomic.AddInt64(&vaultReads, 1)
	recordChannel("vault_poll", size)
}

func IncrementQuotePost(size int) {
	atomic.AddInt64(&quotePosts, 1)
	recordChannel("quote_post", size)
}

func RecordChannelMessage(name string, size int) {
	recordChannel(name, size)
}

func recordChannel(name string, size int) {
	v, _ := channels.LoadOrStore(name, &channelStat{})
	cs := v.(*channelStat)
	atomic.AddInt64(&cs.messages, 1)
	atomic.AddInt64(&cs.bytes, int64(size))
}

func startReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

// StartReport begins periodic logging of system and channel statistics.
// It exposes the internal startReport function for use by other packages.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	startReport(ctx, log, interval)
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()
	diskStats, _ := disk.Usage("/")
	netStats, _ := gnet.IOCounters(false)
	channelData := map[string]map[string]int64{}
	channels.Range(func(k, v any) bool {
		name := k.(string)
		cs := v.(*channelStat)
		channelData[name] = map[string]int64{
			"messages": atomic.LoadInt64(&cs.messages),
			"bytes":    atomic.LoadInt64(&cs.bytes),
		}
		return true
	})

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	bytesSent := uint64(0)
	bytesRecv := uint64(0)
	if len(netStats) > 0 {
		bytesSent = netStats[0].BytesSent
		bytesRecv = netStats[0].BytesRecv
	}

	fields := Fields{
		"errors_rfq":     atomic.LoadInt64(&errorsRFQ),
		"errors_pool":    atomic.LoadInt64(&errorsPool),
		"errors_vault":   atomic.LoadInt64(&errorsVault),
		"warns_rfq":      atomic.LoadInt64(&warnsRFQ),
		"warns_pool":     atomic.LoadInt64(&warnsPool),
		"warns_vault":    atomic.LoadInt64(&warnsVault),
		"rfq_reads":      atomic.LoadInt64(&rfqReads),
		"pool_reads":     atomic.LoadInt64(&poolReads),
		"vault_reads":    atomic.LoadInt64(&vaultReads),
		"quote_posts":    atomic.LoadInt64(&quotePosts),
		"goroutines":     runtime.NumGoroutine(),
		"cpu_percent":    cpuPct,
		"memory_mb":      int64(memStats.Used) / 1024 / 1024,
		"disk_mb":        int64(diskStats.Used) / 1024 / 1024,
		"channels":       channelData,
		"net_bytes_sent": int64(bytesSent),
		"net_bytes_recv": int64(bytesRecv),
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	var data []cwtypes.MetricDatum
	data = append(data,
		cwtypes.MetricDatum{MetricName: aws.String("Flow-CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		cwtypes.MetricDatum{MetricName: aws.String("Flow-MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("Flow-DiskMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(diskStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("Flow-ErrorsRFQ"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_rfq"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Flow-ErrorsPool"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_pool"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Flow-ErrorsVault"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_vault"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Flow-WarnsRFQ"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns_rfq"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Flow-WarnsPool"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns_pool"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Flow-WarnsVault"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns_vault"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Flow-RFQReads"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["rfq_reads"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Flow-PoolReads"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["pool_reads"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Flow-VaultReads"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["vault_reads"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Flow-QuotePosts"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["quote_posts"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Flow-NetBytesSent"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesSent))},
		cwtypes.MetricDatum{MetricName: aws.String("Flow-NetBytesRecv"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesRecv))},
	)

	for name, stats := range channelData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("Flow-ChannelMessages"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["messages"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("Flow-ChannelBytes"),
				Unit:       cwtypes.StandardUnitBytes,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["bytes"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
