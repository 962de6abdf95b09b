// Command seed populates the content API database with demo data.
package main

import (
	"context"
	"flag"
	"log"

	"feedsync/internal/config"
	"feedsync/internal/database"
	"feedsync/internal/seed"
)

func main() {
	opts := seed.DefaultOptions
	flag.IntVar(&opts.Users, "users", opts.Users, "Number of authors to create")
	flag.IntVar(&opts.Posts, "posts", opts.Posts, "Number of posts to create")
	flag.IntVar(&opts.MaxComments, "comments", opts.MaxComments, "Maximum comments per post")
	flag.IntVar(&opts.FollowsPerUser, "follows", opts.FollowsPerUser, "Follows per author")
	flag.IntVar(&opts.LikeChance, "like-chance", opts.LikeChance, "Percent chance a user likes a post")
	flag.Int64Var(&opts.Seed, "seed", 0, "Random seed; 0 picks one")
	shouldClean := flag.Bool("clean", true, "Clean database before seeding")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	ctx := context.Background()
	s := seed.NewSeeder(db, opts)
	if *shouldClean {
		if err := s.ClearAll(ctx); err != nil {
			log.Fatalf("Cleanup failed: %v", err)
		}
	}

	stats, err := s.Run(ctx)
	if err != nil {
		log.Fatalf("Seeding failed: %v", err)
	}
	log.Printf("Seeded %d users, %d posts, %d comments, %d likes, %d follows",
		stats.Users, stats.Posts, stats.Comments, stats.Likes, stats.Follows)
}
