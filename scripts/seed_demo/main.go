package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/blogpulse/internal/config"
	"github.com/blogpulse/internal/db"
	"github.com/blogpulse/internal/service"
	"github.com/blogpulse/internal/store"
	"github.com/joho/godotenv"
	"gorm.io/gorm"
)

// 演示数据生成器：写入文章目录、管理员账号与一些本地互动数据
func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	adminUser := flag.String("admin", cfg.AdminUserName, "admin username")
	adminPassword := flag.String("password", cfg.AdminPassword, "admin password, empty skips the account")
	withEngagement := flag.Bool("engagement", true, "also seed likes, comments and views into local storage")
	flag.Parse()

	// 初始化数据库
	if err := db.Init(cfg.DatabasePath); err != nil {
		log.Fatal("数据库初始化失败:", err)
	}

	fmt.Println("开始生成演示数据...")
	report, err := seedDemo(context.Background(), db.DB, seedOptions{
		AdminUser:      *adminUser,
		AdminPassword:  *adminPassword,
		WithEngagement: *withEngagement,
		Now:            time.Now(),
	})
	if err != nil {
		log.Fatal("生成演示数据失败:", err)
	}

	fmt.Printf("✅ 文章: %d 篇\n", report.Posts)
	if report.Admin {
		fmt.Printf("✅ 管理员: %s\n", *adminUser)
	} else {
		fmt.Println("未设置管理员口令，跳过管理员创建")
	}
	if *withEngagement {
		fmt.Printf("✅ 点赞: %d，评论: %d，浏览: %d\n", report.Likes, report.Comments, report.Views)
	}
}

type seedOptions struct {
	AdminUser      string
	AdminPassword  string
	WithEngagement bool
	Now            time.Time
}

type seedReport struct {
	Posts    int
	Admin    bool
	Likes    int
	Comments int
	Views    int
}

var demoPosts = []service.PostInput{
	{
		Slug:     "future-fear",
		Title:    "On Future Fear",
		Category: "essay",
		Body:     "## Why tomorrow feels heavy\n\nA short essay about anxiety, planning, and learning to sit with *not knowing*.",
	},
	{
		Slug:     "go-notes",
		Title:    "Go Notes: Channels and Context",
		Category: "tech",
		Body:     "Notes on `context.Context`, cancellation, and why every blocking call should accept one.",
	},
	{
		Slug:     "bouncing-rat",
		Title:    "The Bouncing Rat Easter Egg",
		Category: "tech",
		Body:     "How the little sprite on the home page bounces off the edges, and why it changes colour.",
	},
	{
		Slug:     "autumn-walk",
		Title:    "Autumn Walk",
		Category: "life",
		Body:     "Leaves, cold air and a long walk home. Some photos and a few thoughts about slowing down.",
	},
}

var demoComments = []struct {
	slug   string
	author string
	text   string
}{
	{"future-fear", "Mia", "This one hit close to home. Thanks for writing it."},
	{"future-fear", "Ken", "Bookmarking for the next bad week."},
	{"go-notes", "Ana", "The part about context cancellation finally made it click."},
}

func seedDemo(ctx context.Context, gdb *gorm.DB, opts seedOptions) (seedReport, error) {
	var report seedReport
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}

	posts := service.NewPostService(gdb)
	for i, input := range demoPosts {
		input.PublishedAt = opts.Now.Add(-time.Duration(len(demoPosts)-i) * 24 * time.Hour)
		if _, err := posts.Upsert(ctx, input); err != nil {
			return report, fmt.Errorf("seed post %s: %w", input.Slug, err)
		}
		report.Posts++
	}

	admin := service.NewAdminService(gdb)
	if opts.AdminPassword != "" {
		if err := admin.EnsureAdmin(opts.AdminUser, opts.AdminPassword); err != nil {
			return report, fmt.Errorf("seed admin: %w", err)
		}
		report.Admin = true
	}

	if !opts.WithEngagement {
		return report, nil
	}

	engagement := service.NewEngagementService(store.BackendState{}, nil, store.NewLocalStore(gdb, nil), admin, service.EngagementOptions{})
	for i, input := range demoPosts {
		// 越早的文章点赞越多，便于观察 popular 排序
		for v := 0; v < len(demoPosts)-i; v++ {
			visitor := fmt.Sprintf("demo-visitor-%d", v)
			if states := engagement.LikeStates(ctx, visitor, []string{input.Slug}); len(states) == 1 && !states[0].Liked {
				if _, err := engagement.ToggleLike(ctx, visitor, input.Slug, false); err != nil {
					return report, fmt.Errorf("seed like %s: %w", input.Slug, err)
				}
				report.Likes++
			}
			view, err := engagement.RecordView(ctx, visitor, "/posts/"+input.Slug, opts.Now)
			if err != nil {
				return report, fmt.Errorf("seed view %s: %w", input.Slug, err)
			}
			if view.Counted {
				report.Views++
			}
		}
	}

	for _, c := range demoComments {
		if _, err := engagement.SubmitComment(ctx, service.CommentInput{
			PostID:    c.slug,
			Author:    c.author,
			Text:      c.text,
			VisitorID: "demo-" + c.author,
		}); err != nil {
			return report, fmt.Errorf("seed comment on %s: %w", c.slug, err)
		}
		report.Comments++
	}

	return report, nil
}
