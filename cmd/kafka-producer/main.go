package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/city-engagement/internal/catalog"
	"github.com/city-engagement/internal/domain"
	"github.com/city-engagement/internal/kafka"
	"github.com/google/uuid"
)

var neighborhoods = []string{
	"Riverside", "Oldtown", "Harbor", "Hillcrest", "Midtown", "Parkside", "Eastgate", "Lakeview",
	"Northfield", "Southbank", "Westend", "Cedar", "Maple", "Granite", "Elm", "Birch",
}

func userName(idx int) string {
	return fmt.Sprintf("%s%d", neighborhoods[idx%len(neighborhoods)], idx/len(neighborhoods)+1)
}

// weightedActions biases the generator toward cheap, frequent actions
var weightedActions = []struct {
	action string
	weight int
}{
	{"favorite", 30},
	{"helpful_vote", 20},
	{"comment", 15},
	{"share", 12},
	{"review", 10},
	{"place_visit", 10},
	{"event_attend", 3},
}

func pickAction(rng *rand.Rand) string {
	total := 0
	for _, w := range weightedActions {
		total += w.weight
	}
	n := rng.Intn(total)
	for _, w := range weightedActions {
		if n < w.weight {
			return w.action
		}
		n -= w.weight
	}
	return weightedActions[0].action
}

func main() {
	brokers := flag.String("brokers", "localhost:9094", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "engagement-actions", "Kafka topic")
	totalUsers := flag.Int("users", 1000, "Number of distinct users")
	rate := flag.Int("rate", 100, "Actions per second")
	duration := flag.Duration("duration", 0, "Duration to run (0 = forever)")
	seed := flag.Int64("seed", time.Now().UnixNano(), "Random seed")
	flag.Parse()

	if *rate <= 0 || *totalUsers <= 0 {
		log.Fatal("rate and users must be positive")
	}
	for _, w := range weightedActions {
		if _, ok := catalog.Default().Action(domain.ActionType(w.action)); !ok {
			log.Fatalf("generator action %q is not in the catalog", w.action)
		}
	}

	fmt.Printf("Producing engagement actions\n")
	fmt.Printf("  Brokers: %s\n  Topic:   %s\n  Users:   %d\n  Rate:    %d/s\n\n", *brokers, *topic, *totalUsers, *rate)

	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Flush.Frequency = 100 * time.Millisecond
	config.Producer.Flush.Messages = 100
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(strings.Split(*brokers, ","), config)
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}

	var sent, failed int64
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for range producer.Successes() {
			atomic.AddInt64(&sent, 1)
		}
	}()
	go func() {
		defer wg.Done()
		for err := range producer.Errors() {
			atomic.AddInt64(&failed, 1)
			log.Printf("Producer error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	rng := rand.New(rand.NewSource(*seed))
	ticker := time.NewTicker(time.Second / time.Duration(*rate))
	defer ticker.Stop()
	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

	var deadline <-chan time.Time
	if *duration > 0 {
		deadline = time.After(*duration)
	}

	shutdown := func(reason string) {
		fmt.Printf("\n%s, shutting down...\n", reason)
		producer.AsyncClose()
		wg.Wait()
		fmt.Printf("Completed. Sent: %d, Errors: %d\n", atomic.LoadInt64(&sent), atomic.LoadInt64(&failed))
	}

	for {
		select {
		case <-sigChan:
			shutdown("Interrupted")
			return

		case <-deadline:
			shutdown("Duration reached")
			return

		case <-ticker.C:
			// A small active core produces most of the traffic
			idx := rng.Intn(*totalUsers)
			if rng.Intn(100) < 60 {
				idx = rng.Intn(min(20, *totalUsers))
			}
			now := time.Now().UTC()
			msg := kafka.ActionMessage{
				UserID:         userName(idx),
				DisplayName:    userName(idx),
				Action:         pickAction(rng),
				OccurredAt:     &now,
				IdempotencyKey: uuid.NewString(),
			}
			data, err := json.Marshal(msg)
			if err != nil {
				log.Printf("Failed to marshal message: %v", err)
				continue
			}
			producer.Input() <- &sarama.ProducerMessage{
				Topic: *topic,
				Key:   sarama.StringEncoder(msg.UserID),
				Value: sarama.ByteEncoder(data),
			}

		case <-statsTicker.C:
			fmt.Printf("[%s] Sent: %d | Errors: %d\n",
				time.Now().Format("15:04:05"),
				atomic.LoadInt64(&sent),
				atomic.LoadInt64(&failed),
			)
		}
	}
}
