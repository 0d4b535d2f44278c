// Sight sink load benchmark
//
// Answers the questions that matter before pointing real capture clients at a sink:
// - What is the p50/p95/p99 echo latency under concurrent load?
// - How much allocation + GC work does that load generate?
//
// It runs the real sink and drives N concurrent WebSocket clients that authenticate,
// send sensory observations, and wait for their own event envelope to come back.
//
// The sink broadcasts every recorded event to every connected client, so each client
// receives clients*rps envelopes/sec and total sink write volume grows with the
// square of -clients. The measured path is:
// client send → sink decode → record → broadcast → client receive+decode
//
// Run:
//   cd benchmark/sinkload
//   go run . -clients=100 -duration=15s -rps=2 -payload-bytes=64
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"math"
	"net"
	"net/http"
	"runtime"
	"runtime/debug"
	"runtime/metrics"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sight-dev/sight/internal/sink"
	"github.com/sight-dev/sight/pkg/sensory"
)

const (
	benchToken      = "bench-token"
	echoReadTimeout = 10 * time.Second
)

func main() {
	var (
		clients      = flag.Int("clients", 100, "number of concurrent websocket clients")
		duration     = flag.Duration("duration", 15*time.Second, "how long to run the load test")
		rps          = flag.Float64("rps", 2, "target observations/sec per client (best-effort, echo-gated)")
		payloadBytes = flag.Int("payload-bytes", 64, "bytes of observation text per message (affects frame + envelope size)")
		historySize  = flag.Int("history", 256, "sink history cap (affects eviction cost)")
	)
	flag.Parse()

	if *clients <= 0 {
		log.Fatal("-clients must be > 0")
	}
	if *duration <= 0 {
		log.Fatal("-duration must be > 0")
	}
	if *rps <= 0 {
		log.Fatal("-rps must be > 0")
	}
	if *payloadBytes < 0 {
		log.Fatal("-payload-bytes must be >= 0")
	}
	if *historySize <= 0 {
		log.Fatal("-history must be > 0")
	}

	// Reduce incidental variability a bit.
	debug.SetGCPercent(100)

	// The sink's per-event logging would dominate the workload at benchmark rates.
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := sink.New(benchToken, sink.WithLogger(quiet), sink.WithHistorySize(*historySize))

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		log.Fatalf("listen: %v", err)
	}

	httpServer := &http.Server{Handler: s.Routes()}
	go func() {
		_ = httpServer.Serve(ln)
	}()
	defer func() {
		s.Close()
		_ = httpServer.Shutdown(context.Background())
	}()

	wsURL := "ws://" + ln.Addr().String() + "/"

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	samplesCh := make(chan time.Duration, 1024)
	var samples []time.Duration
	var samplesMu sync.Mutex
	collectorDone := make(chan struct{})
	go func() {
		defer close(collectorDone)
		for rtt := range samplesCh {
			samplesMu.Lock()
			samples = append(samples, rtt)
			samplesMu.Unlock()
		}
	}()

	var (
		totalObservations atomic.Uint64
		totalErrors       atomic.Uint64
	)

	var before runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)
	beforeMetrics := readRuntimeMetrics()

	var wg sync.WaitGroup
	wg.Add(*clients)
	for i := 0; i < *clients; i++ {
		clientID := i
		go func() {
			defer wg.Done()
			if err := runClient(ctx, wsURL, clientID, *rps, *payloadBytes, samplesCh, &totalObservations); err != nil {
				totalErrors.Add(1)
			}
		}()
	}

	wg.Wait()
	close(samplesCh)
	<-collectorDone

	var after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&after)
	afterMetrics := readRuntimeMetrics()

	samplesMu.Lock()
	latencies := append([]time.Duration(nil), samples...)
	samplesMu.Unlock()
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	total := totalObservations.Load()
	errs := totalErrors.Load()
	runSeconds := math.Max(0.001, (*duration).Seconds())

	fmt.Println("=== Sight Sink Load Benchmark ===")
	fmt.Printf("Clients: %d\n", *clients)
	fmt.Printf("Duration: %s\n", (*duration).String())
	fmt.Printf("Target per-client rate: %.2f observations/s\n", *rps)
	fmt.Printf("History cap: %d\n", *historySize)
	fmt.Printf("Payload bytes: %d\n", *payloadBytes)
	fmt.Printf("Total observations: %d\n", total)
	fmt.Printf("Errors: %d\n", errs)
	fmt.Printf("Throughput: %.1f observations/s\n", float64(total)/runSeconds)
	fmt.Println()

	if len(latencies) == 0 {
		fmt.Println("No latency samples recorded.")
	} else {
		fmt.Println("Echo RTT (client send → sink record → broadcast → client receive+decode):")
		fmt.Printf("  min: %s\n", latencies[0])
		fmt.Printf("  p50: %s\n", percentile(latencies, 0.50))
		fmt.Printf("  p95: %s\n", percentile(latencies, 0.95))
		fmt.Printf("  p99: %s\n", percentile(latencies, 0.99))
		fmt.Printf("  max: %s\n", latencies[len(latencies)-1])
	}
	fmt.Println()

	fmt.Println("Go runtime / GC (process-wide):")
	fmt.Printf("  alloc:     %.2f MB\n", float64(after.TotalAlloc-before.TotalAlloc)/(1024*1024))
	fmt.Printf("  heap_live: %.2f MB\n", float64(after.HeapAlloc)/(1024*1024))
	fmt.Printf("  num_gc:    %d\n", after.NumGC-before.NumGC)
	fmt.Printf("  gc_pause:  %s (total)\n", time.Duration(after.PauseTotalNs-before.PauseTotalNs))
	fmt.Printf("  gc_pause:  %s (avg)\n", avgPause(after, before))
	fmt.Printf("  gc_cpu:    %.2f%%\n", 100*cpuFraction(afterMetrics, beforeMetrics))
	fmt.Printf("  allocs:    %.2f M objects\n", float64(afterMetrics.heapAllocsObjects-beforeMetrics.heapAllocsObjects)/1_000_000)
}

func avgPause(after, before runtime.MemStats) time.Duration {
	gcCount := after.NumGC - before.NumGC
	if gcCount == 0 {
		return 0
	}
	return time.Duration((after.PauseTotalNs - before.PauseTotalNs) / uint64(gcCount))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := int(math.Ceil(float64(len(sorted))*p)) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

type runtimeMetricsSnapshot struct {
	cpuTotalSeconds float64
	cpuGCSeconds    float64

	heapAllocsBytes   uint64
	heapAllocsObjects uint64
}

func readRuntimeMetrics() runtimeMetricsSnapshot {
	samples := []metrics.Sample{
		{Name: "/cpu/classes/total:cpu-seconds"},
		{Name: "/cpu/classes/gc/total:cpu-seconds"},
		{Name: "/gc/heap/allocs:bytes"},
		{Name: "/gc/heap/allocs:objects"},
	}
	metrics.Read(samples)

	var out runtimeMetricsSnapshot
	for _, s := range samples {
		switch s.Name {
		case "/cpu/classes/total:cpu-seconds":
			out.cpuTotalSeconds = s.Value.Float64()
		case "/cpu/classes/gc/total:cpu-seconds":
			out.cpuGCSeconds = s.Value.Float64()
		case "/gc/heap/allocs:bytes":
			out.heapAllocsBytes = s.Value.Uint64()
		case "/gc/heap/allocs:objects":
			out.heapAllocsObjects = s.Value.Uint64()
		}
	}
	return out
}

func cpuFraction(after, before runtimeMetricsSnapshot) float64 {
	total := after.cpuTotalSeconds - before.cpuTotalSeconds
	if total <= 0 {
		return 0
	}
	gc := after.cpuGCSeconds - before.cpuGCSeconds
	if gc < 0 {
		return 0
	}
	return gc / total
}

func runClient(
	ctx context.Context,
	wsURL string,
	clientID int,
	rps float64,
	payloadBytes int,
	samples chan<- time.Duration,
	totalObservations *atomic.Uint64,
) error {
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	// The sink stays silent on successful auth; a bad credential would come
	// back as a close frame on the first read.
	cred := sensory.Credential{User: fmt.Sprintf("c%d", clientID), Token: benchToken}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(cred.String())); err != nil {
		return fmt.Errorf("credential write: %w", err)
	}

	period := time.Duration(float64(time.Second) / rps)
	var seq uint64

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		seq++
		token := makeToken(clientID, seq, payloadBytes)

		data, err := sensory.NewMessage(token).Encode()
		if err != nil {
			return fmt.Errorf("encode observation: %w", err)
		}

		start := time.Now()
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("observation write: %w", err)
		}

		// Wait for our own echo. Envelopes broadcast for other clients'
		// observations arrive interleaved and are skipped.
		found, err := waitForToken(ctx, conn, token)
		if err != nil {
			// The run deadline can expire mid-roundtrip; that is a clean
			// exit, not a failure.
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("wait for echo: %w", err)
		}
		if !found {
			return fmt.Errorf("token not observed in envelopes")
		}

		rtt := time.Since(start)
		totalObservations.Add(1)
		samples <- rtt

		// Best-effort pacing. We intentionally gate on the echo to measure
		// real queueing/tail behavior.
		elapsed := time.Since(start)
		if sleep := period - elapsed; sleep > 0 {
			timer := time.NewTimer(sleep)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case <-timer.C:
			}
		}
	}
}

func waitForToken(ctx context.Context, conn *websocket.Conn, token string) (bool, error) {
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		default:
		}

		// Guards against a wedged sink; interleaved envelopes from other
		// clients reset it on every successful read.
		_ = conn.SetReadDeadline(time.Now().Add(echoReadTimeout))

		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			return false, err
		}
		if msgType != websocket.TextMessage {
			continue
		}

		env, err := sensory.DecodeEnvelope(msg)
		if err != nil {
			return false, fmt.Errorf("decode envelope: %w", err)
		}
		if env.Type != sensory.TypeEvent {
			continue
		}

		var payload struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(env.Event.Payload, &payload); err != nil {
			return false, fmt.Errorf("decode event payload: %w", err)
		}
		if payload.Text == token {
			return true, nil
		}
	}
}

func makeToken(clientID int, seq uint64, payloadBytes int) string {
	// Always include client+seq for debugging, then pad with random bytes.
	prefix := fmt.Sprintf("c%d:%d:", clientID, seq)
	if payloadBytes <= len(prefix) {
		return prefix[:payloadBytes]
	}

	need := payloadBytes - len(prefix)
	raw := make([]byte, (need+1)/2)
	_, _ = rand.Read(raw)
	suffix := hex.EncodeToString(raw)
	if len(suffix) > need {
		suffix = suffix[:need]
	}
	return prefix + suffix
}
