package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/seckill/internal/adapter/storage"
	"github.com/rl1809/seckill/internal/core/domain"
)

func main() {
	redisAddr := flag.String("redis", "localhost:6379", "redis address")
	itemID := flag.String("item", "flash-sale-item", "item id")
	initialStock := flag.Int("stock", 20, "initial stock")
	totalRequests := flag.Int("requests", 50, "number of distinct users")
	repeats := flag.Int("repeats", 3, "attempts per user")
	flag.Parse()

	ctx := context.Background()

	// Initialize Redis
	rdb := redis.NewClient(&redis.Options{Addr: *redisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	defer rdb.Close()

	redisAdapter := storage.NewRedisAdapter(rdb)
	if err := redisAdapter.InitStock(ctx, *itemID, *initialStock, true); err != nil {
		log.Fatalf("failed to set stock: %v", err)
	}

	// Counters
	var reserved, soldOut, duplicate, failed atomic.Int32

	// Every user fires several attempts at once
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < *totalRequests; i++ {
		for j := 0; j < *repeats; j++ {
			wg.Add(1)
			go func(userID string) {
				defer wg.Done()

				outcome, err := redisAdapter.Reserve(ctx, *itemID, userID)
				if err != nil {
					failed.Add(1)
					return
				}
				switch outcome {
				case domain.OutcomeReserved:
					reserved.Add(1)
				case domain.OutcomeSoldOut:
					soldOut.Add(1)
				case domain.OutcomeDuplicate:
					duplicate.Add(1)
				}
			}(fmt.Sprintf("user-%d", i))
		}
	}

	wg.Wait()
	elapsed := time.Since(start)

	// Results
	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", *initialStock)
	fmt.Printf("Users:            %d x %d attempts\n", *totalRequests, *repeats)
	fmt.Printf("Reserved:         %d\n", reserved.Load())
	fmt.Printf("Sold Out:         %d\n", soldOut.Load())
	fmt.Printf("Duplicate:        %d\n", duplicate.Load())
	fmt.Printf("Errors:           %d\n", failed.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	// Assertions
	expected := min(*initialStock, *totalRequests)
	if int(reserved.Load()) == expected {
		fmt.Printf("PASS: exactly %d reservations\n", expected)
	} else {
		fmt.Printf("FAIL: expected %d reservations, got %d\n", expected, reserved.Load())
	}

	buyers, err := rdb.SCard(ctx, storage.BuyersKey(*itemID)).Result()
	if err != nil {
		log.Fatalf("failed to count buyers: %v", err)
	}
	finalStock, err := redisAdapter.GetStock(ctx, *itemID)
	if err != nil {
		log.Fatalf("failed to read stock: %v", err)
	}
	fmt.Printf("Final Redis Stock: %d, buyers: %d\n", finalStock, buyers)

	if finalStock+int(buyers) == *initialStock {
		fmt.Println("PASS: stock + buyers == initial stock")
	} else {
		fmt.Printf("FAIL: stock %d + buyers %d != %d\n", finalStock, buyers, *initialStock)
	}
}
