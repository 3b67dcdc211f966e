// Package demo is a small blog that renders through rendertree and queries
// through gorm, so every command has something to trace without a real
// application attached.
package demo

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"strconv"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tobert/render-trace/internal/querylog"
	"github.com/tobert/render-trace/internal/rendertree"
	"github.com/tobert/render-trace/internal/report"
	"github.com/tobert/render-trace/internal/timing"
)

// dryRunDSN is parsed but never dialed.
const dryRunDSN = "host=localhost user=demo dbname=demo sslmode=disable"

// Author, Post and Comment are the blog's tables.
type Author struct {
	ID   uint
	Name string
}

type Post struct {
	ID       uint
	AuthorID uint
	Title    string
	Body     string
}

type Comment struct {
	ID     uint
	PostID uint
	Body   string
}

// Config configures a Site.
type Config struct {
	// DSN of a postgres database holding the blog tables. Empty runs gorm in
	// dry-run mode: statements are built and counted but never executed.
	DSN string

	// Posts is the number of posts on the home page. Default 5.
	Posts int

	// Work is spent in every leaf render to make timings visible.
	Work time.Duration
}

// Site is the demo blog.
type Site struct {
	db    *gorm.DB
	posts int
	work  time.Duration
}

// Open connects the blog to its database and installs the query plugin.
func Open(cfg Config) (*Site, error) {
	dsn := cfg.DSN
	dryRun := dsn == ""
	if dryRun {
		dsn = dryRunDSN
	}

	db, err := gorm.Open(postgres.New(postgres.Config{DSN: dsn}), &gorm.Config{
		DryRun:               dryRun,
		DisableAutomaticPing: dryRun,
		Logger:               logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open demo database: %w", err)
	}
	if err := db.Use(querylog.Plugin{}); err != nil {
		return nil, fmt.Errorf("failed to install query plugin: %w", err)
	}

	posts := cfg.Posts
	if posts <= 0 {
		posts = 5
	}
	return &Site{db: db, posts: posts, work: cfg.Work}, nil
}

// Home is the render tree of the front page.
func (s *Site) Home() *rendertree.Node {
	list := &rendertree.Node{Path: "home/body/posts", Kind: "Blog:PostList", Render: s.listPosts}
	for i := 1; i <= s.posts; i++ {
		list.Children = append(list.Children, s.postTeaser("home/body/posts/post", uint(i)))
	}
	return &rendertree.Node{
		Path: "home",
		Kind: "Blog:Page",
		Children: []*rendertree.Node{
			rendertree.Leaf("home/head", "", s.static("<head><title>blog</title></head>")),
			{
				Path:     "home/body",
				Render:   rendertree.Static("<body>"),
				Children: []*rendertree.Node{s.sidebar("home/body/sidebar"), list},
			},
			rendertree.Leaf("home/footer", "", s.static("</body>")),
		},
	}
}

// Article is the render tree of a single post page.
func (s *Site) Article(id uint) *rendertree.Node {
	base := "post"
	return &rendertree.Node{
		Path: base,
		Kind: "Blog:Page",
		Children: []*rendertree.Node{
			rendertree.Leaf(base+"/head", "", s.static("<head><title>post</title></head>")),
			{
				Path:   base + "/article",
				Kind:   "Blog:Article",
				Render: s.loadPost(id),
				Children: []*rendertree.Node{
					rendertree.Leaf(base+"/article/author", "Blog:Author", s.loadAuthor(id)),
					rendertree.Leaf(base+"/article/comments", "Blog:Comments", s.loadComments(id)),
				},
			},
			s.sidebar(base + "/sidebar"),
		},
	}
}

func (s *Site) postTeaser(path string, id uint) *rendertree.Node {
	return &rendertree.Node{
		Path:   path,
		Kind:   "Blog:Teaser",
		Render: s.loadPost(id),
		Children: []*rendertree.Node{
			rendertree.Leaf(path+"/comments", "Blog:CommentCount", s.countComments(id)),
		},
	}
}

func (s *Site) sidebar(path string) *rendertree.Node {
	return rendertree.Leaf(path, "Blog:Sidebar", func(ctx context.Context) (string, error) {
		var authors []Author
		if err := s.db.WithContext(ctx).Order("name").Limit(10).Find(&authors).Error; err != nil {
			return "", err
		}
		return "<aside></aside>", s.spend(ctx)
	})
}

func (s *Site) listPosts(ctx context.Context) (string, error) {
	var posts []Post
	if err := s.db.WithContext(ctx).Order("id desc").Limit(s.posts).Find(&posts).Error; err != nil {
		return "", err
	}
	return "<ul>", nil
}

func (s *Site) loadPost(id uint) rendertree.RenderFunc {
	return func(ctx context.Context) (string, error) {
		var post Post
		if err := s.db.WithContext(ctx).Where("id = ?", id).Find(&post).Error; err != nil {
			return "", err
		}
		return fmt.Sprintf("<article id=%q>%s</article>", strconv.FormatUint(uint64(id), 10), html.EscapeString(post.Title)), s.spend(ctx)
	}
}

func (s *Site) loadAuthor(postID uint) rendertree.RenderFunc {
	return func(ctx context.Context) (string, error) {
		var author Author
		sub := s.db.Model(&Post{}).Select("author_id").Where("id = ?", postID)
		if err := s.db.WithContext(ctx).Where("id = (?)", sub).Find(&author).Error; err != nil {
			return "", err
		}
		return "<address>" + html.EscapeString(author.Name) + "</address>", s.spend(ctx)
	}
}

func (s *Site) loadComments(postID uint) rendertree.RenderFunc {
	return func(ctx context.Context) (string, error) {
		var comments []Comment
		if err := s.db.WithContext(ctx).Where("post_id = ?", postID).Find(&comments).Error; err != nil {
			return "", err
		}
		return fmt.Sprintf("<section>%d comments</section>", len(comments)), s.spend(ctx)
	}
}

func (s *Site) countComments(postID uint) rendertree.RenderFunc {
	return func(ctx context.Context) (string, error) {
		var n int64
		if err := s.db.WithContext(ctx).Model(&Comment{}).Where("post_id = ?", postID).Count(&n).Error; err != nil {
			return "", err
		}
		return fmt.Sprintf("<small>%d</small>", n), s.spend(ctx)
	}
}

func (s *Site) static(out string) rendertree.RenderFunc {
	return func(ctx context.Context) (string, error) {
		return out, s.spend(ctx)
	}
}

func (s *Site) spend(ctx context.Context) error {
	if s.work <= 0 {
		return nil
	}
	t := time.NewTimer(s.work)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handler serves the home page at / and posts at /posts/{id}. Wrap it in
// renderhttp.Middleware to trace requests.
func (s *Site) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		s.serve(w, r, s.Home())
	})
	mux.HandleFunc("GET /posts/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseUint(r.PathValue("id"), 10, 32)
		if err != nil || id == 0 {
			http.NotFound(w, r)
			return
		}
		s.serve(w, r, s.Article(uint(id)))
	})
	return mux
}

func (s *Site) serve(w http.ResponseWriter, r *http.Request, tree *rendertree.Node) {
	out, err := rendertree.Evaluate(r.Context(), tree)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(out))
}

// Render evaluates tree outside of HTTP and returns its report, the way the
// middleware would have built it for a request to path.
func (s *Site) Render(ctx context.Context, path string, tree *rendertree.Node) (*report.Report, error) {
	queries := querylog.New()
	collector := timing.NewCollector(queries)
	ctx = querylog.NewContext(timing.NewContext(ctx, collector), queries)

	start := time.Now()
	if _, err := rendertree.Evaluate(ctx, tree); err != nil {
		return nil, err
	}
	return report.Build(report.Meta{Method: http.MethodGet, Path: path, Start: start, End: time.Now()}, collector, queries), nil
}
