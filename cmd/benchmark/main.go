package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/snoozleEmily/transcriptor/internal/audio"
	"github.com/snoozleEmily/transcriptor/internal/estimate"
	"github.com/snoozleEmily/transcriptor/internal/feedback"
	"github.com/snoozleEmily/transcriptor/internal/output"
	"github.com/snoozleEmily/transcriptor/internal/pipeline"
	"github.com/snoozleEmily/transcriptor/internal/progress"
	"github.com/snoozleEmily/transcriptor/internal/revise"
	"github.com/snoozleEmily/transcriptor/pkg/transcriber"
)

// BenchmarkResults holds performance metrics
type BenchmarkResults struct {
	TestName            string
	Duration            time.Duration
	OperationsPerSecond float64
	MemoryUsed          uint64
	GoroutineCount      int
	Details             string
}

var (
	AudioSeconds int
	Runs         int
)

func init() {
	flag.IntVar(&AudioSeconds, "seconds", 600, "Length of the synthetic audio in seconds")
	flag.IntVar(&Runs, "runs", 5, "Number of pipeline runs")
}

func main() {
	flag.Parse()
	logrus.SetLevel(logrus.WarnLevel)

	fmt.Println("🚀 Starting Transcriptor Performance Benchmarks")
	fmt.Println(strings.Repeat("=", 60))

	var results []BenchmarkResults

	fmt.Println("\n🎙️  Benchmarking Voice Activity Detection...")
	results = append(results, benchmarkVAD())

	fmt.Println("\n🧹 Benchmarking Audio Cleaner...")
	results = append(results, benchmarkCleaner())

	fmt.Println("\n📨 Benchmarking Feedback Channel...")
	results = append(results, benchmarkFeedbackChannel())

	fmt.Println("\n⏱️  Benchmarking Estimator...")
	results = append(results, benchmarkEstimator())

	fmt.Println("\n🔄 Benchmarking Pipeline Runs...")
	results = append(results, benchmarkPipeline())

	printBenchmarkSummary(results)
}

// syntheticAudio alternates two seconds of hiss with two seconds of tone
func syntheticAudio(seconds int) transcriber.Audio {
	rate := audio.DefaultSampleRate
	samples := make([]int16, seconds*rate)
	for i := range samples {
		if (i/(2*rate))%2 == 0 {
			samples[i] = int16((i*7919)%101 - 50)
			continue
		}
		samples[i] = int16(8000 * math.Sin(2*math.Pi*float64(i)/40))
	}
	return transcriber.Audio{Samples: samples, SampleRate: rate}
}

func readMem() uint64 {
	var m runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&m)
	return m.Alloc
}

func memDelta(before, after uint64) uint64 {
	if after < before {
		return 0
	}
	return after - before
}

func benchmarkVAD() BenchmarkResults {
	const iterations = 50000
	const frameSize = 480

	vad := audio.NewVoiceActivityDetector(nil)

	speech := make([]int16, frameSize)
	for i := range speech {
		speech[i] = int16(8000 * math.Sin(2*math.Pi*float64(i)/40))
	}
	silence := make([]int16, frameSize)

	memBefore := readMem()
	start := time.Now()

	speechDetected := 0
	for i := 0; i < iterations; i++ {
		frame := speech
		if i%3 == 0 {
			frame = silence
		}
		if vad.Analyze(frame).IsVoice {
			speechDetected++
		}
	}

	duration := time.Since(start)
	memUsed := memDelta(memBefore, readMem())
	opsPerSec := float64(iterations) / duration.Seconds()
	speechPct := float64(speechDetected) * 100 / float64(iterations)

	fmt.Printf("  Analyzed %d frames in %v\n", iterations, duration)
	fmt.Printf("  Frames/sec: %.2f\n", opsPerSec)
	fmt.Printf("  Voice frames: %d (%.1f%%)\n", speechDetected, speechPct)

	return BenchmarkResults{
		TestName:            "Voice Activity Detection",
		Duration:            duration,
		OperationsPerSecond: opsPerSec,
		MemoryUsed:          memUsed,
		GoroutineCount:      runtime.NumGoroutine(),
		Details:             fmt.Sprintf("%d frames, %.1f%% voice", iterations, speechPct),
	}
}

func benchmarkCleaner() BenchmarkResults {
	input := syntheticAudio(AudioSeconds)
	cleaner := audio.NewCleaner(audio.CleanerConfig{}, nil)

	memBefore := readMem()
	start := time.Now()

	if _, err := cleaner.CleanAudio(context.Background(), input); err != nil {
		fmt.Printf("  ❌ Cleaning failed: %v\n", err)
	}

	duration := time.Since(start)
	memUsed := memDelta(memBefore, readMem())
	realtime := input.Seconds() / duration.Seconds()

	fmt.Printf("  Cleaned %.0fs of audio in %v\n", input.Seconds(), duration)
	fmt.Printf("  Speed: %.1fx realtime\n", realtime)

	return BenchmarkResults{
		TestName:            "Audio Cleaner",
		Duration:            duration,
		OperationsPerSecond: float64(len(input.Samples)) / duration.Seconds(),
		MemoryUsed:          memUsed,
		GoroutineCount:      runtime.NumGoroutine(),
		Details:             fmt.Sprintf("%.0fs of audio, %.1fx realtime", input.Seconds(), realtime),
	}
}

func benchmarkFeedbackChannel() BenchmarkResults {
	const producers = 8
	const eventsPerProducer = 10000

	events := feedback.NewChannel(producers*eventsPerProducer, nil)
	defer events.Close()

	memBefore := readMem()
	start := time.Now()

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < eventsPerProducer; i++ {
				events.Post(feedback.Progress(i%100, fmt.Sprintf("producer %d", id)))
			}
		}(p)
	}

	drained := 0
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for waiting := true; waiting; {
		select {
		case <-done:
			waiting = false
		default:
			drained += len(events.Drain())
			runtime.Gosched()
		}
	}
	drained += len(events.Drain())

	duration := time.Since(start)
	memUsed := memDelta(memBefore, readMem())
	total := producers * eventsPerProducer
	opsPerSec := float64(total) / duration.Seconds()
	metrics := events.Metrics()

	fmt.Printf("  Posted %d events from %d producers in %v\n", total, producers, duration)
	fmt.Printf("  Events/sec: %.2f\n", opsPerSec)
	fmt.Printf("  Drained: %d, dropped: %d\n", drained, metrics.EventsDropped)

	return BenchmarkResults{
		TestName:            "Feedback Channel",
		Duration:            duration,
		OperationsPerSecond: opsPerSec,
		MemoryUsed:          memUsed,
		GoroutineCount:      runtime.NumGoroutine(),
		Details:             fmt.Sprintf("%d producers, %d drained, %d dropped", producers, drained, metrics.EventsDropped),
	}
}

func benchmarkEstimator() BenchmarkResults {
	const iterations = 200000

	profiles := make([]estimate.ModelProfile, 0, len(estimate.ModelNames()))
	for _, name := range estimate.ModelNames() {
		profile, err := estimate.LookupProfile(name)
		if err != nil {
			continue
		}
		profiles = append(profiles, profile)
	}
	if len(profiles) == 0 {
		return BenchmarkResults{TestName: "Estimator", Details: "no model profiles"}
	}

	memBefore := readMem()
	start := time.Now()

	var totalMean float64
	for i := 0; i < iterations; i++ {
		est, err := estimate.ForDuration(float64(60+i%3600), i%20, profiles[i%len(profiles)])
		if err != nil {
			continue
		}
		totalMean += est.MeanSeconds
	}

	duration := time.Since(start)
	memUsed := memDelta(memBefore, readMem())
	opsPerSec := float64(iterations) / duration.Seconds()

	fmt.Printf("  Computed %d estimates in %v\n", iterations, duration)
	fmt.Printf("  Estimates/sec: %.2f\n", opsPerSec)
	fmt.Printf("  Average mean: %.1fs\n", totalMean/iterations)

	return BenchmarkResults{
		TestName:            "Estimator",
		Duration:            duration,
		OperationsPerSecond: opsPerSec,
		MemoryUsed:          memUsed,
		GoroutineCount:      runtime.NumGoroutine(),
		Details:             fmt.Sprintf("%d estimates over %d models", iterations, len(profiles)),
	}
}

type syntheticExtractor struct {
	audio transcriber.Audio
}

func (s syntheticExtractor) ExtractAudio(ctx context.Context, videoPath string) (transcriber.Audio, error) {
	return s.audio, ctx.Err()
}

func benchmarkPipeline() BenchmarkResults {
	outDir, err := os.MkdirTemp("", "transcriptor-bench-")
	if err != nil {
		fmt.Printf("  ❌ Failed to create output dir: %v\n", err)
		return BenchmarkResults{TestName: "Pipeline Runs", Details: err.Error()}
	}
	defer os.RemoveAll(outDir)

	input := syntheticAudio(AudioSeconds)
	runner, err := pipeline.NewRunner(pipeline.Config{
		Model:     "tiny",
		OutputDir: outDir,
		Progress: progress.Config{
			Interval:          10 * time.Millisecond,
			SafetyBuffer:      50 * time.Millisecond,
			MinimalBuffer:     10 * time.Millisecond,
			HeartbeatInterval: time.Hour,
			GracePeriod:       200 * time.Millisecond,
		},
	}, pipeline.Dependencies{
		Extractor: syntheticExtractor{audio: input},
		Cleaner:   audio.NewCleaner(audio.CleanerConfig{}, nil),
		Engine:    &transcriber.MockTranscriber{Delay: 50 * time.Millisecond},
		Reviser:   revise.New(nil),
		Annotator: revise.New(nil),
		Saver:     output.NewWriter("Benchmark", nil),
	}, nil)
	if err != nil {
		fmt.Printf("  ❌ Failed to create pipeline: %v\n", err)
		return BenchmarkResults{TestName: "Pipeline Runs", Details: err.Error()}
	}
	defer runner.Close()

	memBefore := readMem()
	start := time.Now()

	completed := 0
	eventCount := 0
	for i := 0; i < Runs; i++ {
		var mu sync.Mutex
		var final feedback.Event
		req := pipeline.Request{
			VideoPath:  fmt.Sprintf("bench-%d.mp4", i),
			OutputKind: pipeline.OutputText,
		}
		started := runner.Start(context.Background(), req, func(event feedback.Event) bool {
			mu.Lock()
			defer mu.Unlock()
			eventCount++
			if event.IsTerminal() {
				final = event
			}
			return true
		})
		if !started {
			continue
		}
		runner.Wait()
		if final.Kind == feedback.KindCompleted {
			completed++
		}
	}

	duration := time.Since(start)
	memUsed := memDelta(memBefore, readMem())
	opsPerSec := float64(Runs) / duration.Seconds()
	metrics := runner.Metrics()

	fmt.Printf("  Completed %d/%d runs of %.0fs audio in %v\n", completed, Runs, input.Seconds(), duration)
	fmt.Printf("  Events delivered: %d\n", eventCount)
	fmt.Printf("  Average processing time: %dms\n", metrics.AverageProcessTime)

	return BenchmarkResults{
		TestName:            "Pipeline Runs",
		Duration:            duration,
		OperationsPerSecond: opsPerSec,
		MemoryUsed:          memUsed,
		GoroutineCount:      runtime.NumGoroutine(),
		Details:             fmt.Sprintf("%d/%d completed, %d events", completed, Runs, eventCount),
	}
}

func printBenchmarkSummary(results []BenchmarkResults) {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("BENCHMARK SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	for _, result := range results {
		fmt.Printf("\n📊 %s\n", result.TestName)
		fmt.Printf("   Duration: %v\n", result.Duration)
		if result.OperationsPerSecond > 0 {
			fmt.Printf("   Ops/sec: %.2f\n", result.OperationsPerSecond)
		}
		fmt.Printf("   Memory: %.2f MB\n", float64(result.MemoryUsed)/1024/1024)
		fmt.Printf("   Goroutines: %d\n", result.GoroutineCount)
		fmt.Printf("   Details: %s\n", result.Details)
	}

	var totalMemory uint64
	for _, result := range results {
		totalMemory += result.MemoryUsed
	}

	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Printf("🧠 Total memory used across tests: %.2f MB\n", float64(totalMemory)/1024/1024)
	fmt.Printf("⚡ Current goroutines: %d\n", runtime.NumGoroutine())
	fmt.Println("\n✅ All benchmarks completed")
}
