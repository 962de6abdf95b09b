// Package seed fills the content API database with demo data for local
// development and manual testing of the session gateway.
package seed

import (
	"context"
	"fmt"
	"time"

	"feedsync/internal/models"
	"feedsync/internal/repository"

	"github.com/brianvoe/gofakeit/v6"
	"gorm.io/gorm"
)

// Options configuration for the seeder
type Options struct {
	Users          int
	Posts          int
	MaxComments    int
	FollowsPerUser int
	// LikeChance is the percentage chance that a given user likes a given post.
	LikeChance int
	MaxDays    int
	// Seed makes runs reproducible; zero picks a time-based seed.
	Seed int64
}

// DefaultOptions is a small but lively dataset.
var DefaultOptions = Options{
	Users:          25,
	Posts:          200,
	MaxComments:    6,
	FollowsPerUser: 5,
	LikeChance:     15,
	MaxDays:        30,
}

// Stats counts what a run created.
type Stats struct {
	Users    int `json:"users"`
	Posts    int `json:"posts"`
	Comments int `json:"comments"`
	Likes    int `json:"likes"`
	Follows  int `json:"follows"`
}

// User is a seeded author. Users live in the identity provider, so only
// their ids and display names reach the content database.
type User struct {
	ID   string
	Name string
	Role string
}

var roles = []string{"member", "member", "member", "creator", "creator", "moderator", "admin"}

var tagPool = []string{"go", "design", "music", "travel", "food", "gaming", "books", "fitness", "photography", "startups"}

// Seeder writes demo data through the repositories.
type Seeder struct {
	db       *gorm.DB
	opts     Options
	faker    *gofakeit.Faker
	posts    repository.PostRepository
	comments repository.CommentRepository
	follows  repository.FollowRepository
}

// NewSeeder creates a Seeder bound to db.
func NewSeeder(db *gorm.DB, opts Options) *Seeder {
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if opts.MaxDays <= 0 {
		opts.MaxDays = DefaultOptions.MaxDays
	}
	return &Seeder{
		db:       db,
		opts:     opts,
		faker:    gofakeit.New(seed),
		posts:    repository.NewPostRepository(db),
		comments: repository.NewCommentRepository(db),
		follows:  repository.NewFollowRepository(db),
	}
}

// ClearAll hard-deletes every seeded table.
func (s *Seeder) ClearAll(ctx context.Context) error {
	db := s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Unscoped()
	for _, m := range []interface{}{&models.Like{}, &models.Comment{}, &models.Follow{}, &models.Item{}} {
		if err := db.Delete(m).Error; err != nil {
			return fmt.Errorf("clear %T: %w", m, err)
		}
	}
	return nil
}

// Run creates users, follows, posts, comments and likes in that order.
func (s *Seeder) Run(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	users := s.Users(s.opts.Users)
	stats.Users = len(users)
	if len(users) == 0 {
		return stats, nil
	}

	n, err := s.SeedFollows(ctx, users)
	if err != nil {
		return stats, err
	}
	stats.Follows = n

	posts := make([]*models.Item, 0, s.opts.Posts)
	for i := 0; i < s.opts.Posts; i++ {
		author := users[s.faker.Number(0, len(users)-1)]
		post := s.BuildPost(author, users)
		if err := s.posts.Create(ctx, post); err != nil {
			return stats, fmt.Errorf("create post: %w", err)
		}
		posts = append(posts, post)
	}
	stats.Posts = len(posts)

	for _, post := range posts {
		n, err := s.SeedComments(ctx, post, users)
		if err != nil {
			return stats, err
		}
		stats.Comments += n

		n, err = s.SeedLikes(ctx, post, users)
		if err != nil {
			return stats, err
		}
		stats.Likes += n
	}
	return stats, nil
}

// Users builds n authors with unique ids.
func (s *Seeder) Users(n int) []User {
	users := make([]User, 0, n)
	for i := 0; i < n; i++ {
		users = append(users, User{
			ID:   fmt.Sprintf("%s%d", s.faker.Username(), i),
			Name: s.faker.Name(),
			Role: s.faker.RandomString(roles),
		})
	}
	return users
}

// BuildPost constructs an unsaved post by author. Some posts mention another
// user so the mentions filter has data.
func (s *Seeder) BuildPost(author User, users []User) *models.Item {
	body := s.faker.Paragraph(1, 3, 12, "\n")
	if len(users) > 1 && s.faker.Number(1, 100) <= 20 {
		other := users[s.faker.Number(0, len(users)-1)]
		if other.ID != author.ID {
			body = fmt.Sprintf("@%s %s", other.ID, body)
		}
	}

	tags := make([]string, 0, 3)
	for i := s.faker.Number(0, 3); i > 0; i-- {
		tags = append(tags, s.faker.RandomString(tagPool))
	}

	var images []string
	if s.faker.Bool() {
		images = []string{fmt.Sprintf("https://picsum.photos/seed/%s/800/800", s.faker.UUID())}
	}

	back := time.Duration(s.faker.Number(0, s.opts.MaxDays*24*60)) * time.Minute
	return &models.Item{
		AuthorID:   author.ID,
		AuthorName: author.Name,
		AuthorRole: author.Role,
		Title:      s.faker.Sentence(s.faker.Number(3, 8)),
		Body:       body,
		Tags:       tags,
		Images:     images,
		CreatedAt:  time.Now().UTC().Add(-back).Truncate(time.Microsecond),
	}
}

// SeedFollows has every user follow up to FollowsPerUser others.
func (s *Seeder) SeedFollows(ctx context.Context, users []User) (int, error) {
	created := 0
	for _, u := range users {
		seen := map[string]bool{u.ID: true}
		for i := 0; i < s.opts.FollowsPerUser && len(seen) < len(users); i++ {
			other := users[s.faker.Number(0, len(users)-1)]
			if seen[other.ID] {
				continue
			}
			seen[other.ID] = true
			if err := s.follows.Follow(ctx, u.ID, other.ID); err != nil {
				return created, fmt.Errorf("follow: %w", err)
			}
			created++
		}
	}
	return created, nil
}

// SeedComments adds up to MaxComments comments to post, some of them replies.
func (s *Seeder) SeedComments(ctx context.Context, post *models.Item, users []User) (int, error) {
	if s.opts.MaxComments <= 0 {
		return 0, nil
	}
	count := s.faker.Number(0, s.opts.MaxComments)
	var made []*models.Comment
	for i := 0; i < count; i++ {
		author := users[s.faker.Number(0, len(users)-1)]
		c := &models.Comment{
			PostID:     post.ID,
			AuthorID:   author.ID,
			AuthorName: author.Name,
			Body:       s.faker.Sentence(s.faker.Number(4, 16)),
			CreatedAt:  post.CreatedAt.Add(time.Duration(i+1) * time.Minute),
		}
		if len(made) > 0 && s.faker.Number(1, 100) <= 30 {
			parentID := made[s.faker.Number(0, len(made)-1)].ID
			c.ParentID = &parentID
		}
		if err := s.comments.Create(ctx, c); err != nil {
			return len(made), fmt.Errorf("create comment: %w", err)
		}
		made = append(made, c)
	}
	return len(made), nil
}

// SeedLikes has each user like post with LikeChance percent probability.
func (s *Seeder) SeedLikes(ctx context.Context, post *models.Item, users []User) (int, error) {
	likes := 0
	for _, u := range users {
		if s.faker.Number(1, 100) > s.opts.LikeChance {
			continue
		}
		liked, _, err := s.posts.ToggleLike(ctx, u.ID, post.ID)
		if err != nil {
			return likes, fmt.Errorf("like: %w", err)
		}
		if liked {
			likes++
		}
	}
	return likes, nil
}
