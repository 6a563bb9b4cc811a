package service

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"tracklink/internal/dto"
	"tracklink/internal/metrics"
	"tracklink/internal/repo"
	"tracklink/internal/tracker"
	"tracklink/pkg/validator"
)

const DefaultVideoHost = "www.youtube.com"

type Service interface {
	Watch(ctx *gin.Context)
	MappedRedirect(ctx *gin.Context)
	Shorten(ctx *gin.Context)
	TrackedVisits(ctx *gin.Context)
	LinkInfo(ctx *gin.Context)
	Analytics(ctx *gin.Context)
	Health(ctx *gin.Context)
}

// Submitter takes tracking jobs off the request path.
type Submitter interface {
	Submit(job tracker.Job) error
}

type Config struct {
	VideoHost string
	// BaseURL prefixes generated links; empty means the request's own origin.
	BaseURL string
	// LinkTTL is only used to report expiry in link info.
	LinkTTL time.Duration
}

type service struct {
	links   repo.LinkTable
	visits  repo.VisitLedger
	tracker Submitter
	cfg     Config
	log     *zerolog.Logger
}

func NewService(links repo.LinkTable, visits repo.VisitLedger, tracker Submitter, cfg Config, logger *zerolog.Logger) Service {
	if cfg.VideoHost == "" {
		cfg.VideoHost = DefaultVideoHost
	}
	if cfg.LinkTTL <= 0 {
		cfg.LinkTTL = repo.DefaultLinkTTL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &service{
		links:   links,
		visits:  visits,
		tracker: tracker,
		cfg:     cfg,
		log:     logger,
	}
}

// Watch redirects the direct form: the video id comes straight from ?v=.
func (s *service) Watch(ctx *gin.Context) {
	videoID := strings.TrimSpace(ctx.Query("v"))

	s.redirect(ctx, "direct", videoID)
	s.track(ctx, videoID, "")
}

// MappedRedirect resolves a short id. Unknown or expired ids land on the
// video home page; the visitor never sees an error.
func (s *service) MappedRedirect(ctx *gin.Context) {
	shortID := ctx.Param("short_id")

	var videoID, resolved string
	if repo.IsShortID(shortID) {
		link, err := s.links.Resolve(ctx.Request.Context(), shortID)
		switch {
		case err == nil:
			videoID = link.VideoID
			resolved = shortID
		case errors.Is(err, repo.ErrLinkNotFound):
			s.log.Info().Msgf("short id %s not found, redirecting to home page", shortID)
		default:
			s.log.Error().Msgf("failed to resolve short id %s: %v", shortID, err)
		}
	}

	s.redirect(ctx, "mapped", videoID)
	s.track(ctx, videoID, resolved)
}

func (s *service) redirect(ctx *gin.Context, form, videoID string) {
	target := "https://" + s.cfg.VideoHost
	outcome := "home"
	if videoID != "" {
		target += "/watch?v=" + url.QueryEscape(videoID)
		outcome = "video"
	}

	metrics.Redirects.WithLabelValues(form, outcome).Inc()
	ctx.Redirect(http.StatusFound, target)
}

// track hands the visit to the background pipeline. Submission never
// blocks and its failures never reach the visitor.
func (s *service) track(ctx *gin.Context, videoID, shortID string) {
	if s.tracker == nil {
		return
	}

	job := tracker.Job{
		Header:     ctx.Request.Header.Clone(),
		RemoteAddr: ctx.Request.RemoteAddr,
		VideoID:    videoID,
		ShortID:    shortID,
		ReceivedAt: time.Now(),
	}
	if err := s.tracker.Submit(job); err != nil {
		s.log.Warn().Msgf("visit from %s not tracked: %v", ctx.Request.RemoteAddr, err)
	}
}

func (s *service) Shorten(ctx *gin.Context) {
	var req dto.ShortenRequest
	if err := ctx.ShouldBindQuery(&req); err != nil {
		s.log.Error().Msgf("Invalid shorten query: %v", err)
		dto.FieldBadFormatError(ctx, "url")
		return
	}

	if err := validator.Validate(ctx.Request.Context(), req); err != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, err.Error())
		return
	}

	videoID, err := repo.ExtractVideoID(req.URL)
	if err != nil {
		dto.FieldIncorrectError(ctx, "url")
		return
	}

	link, err := s.links.Create(ctx.Request.Context(), videoID)
	if err != nil {
		s.log.Error().Msgf("Failed to create link for video %s: %v", videoID, err)
		dto.InternalServerError(ctx)
		return
	}
	metrics.LinksCreated.Inc()
	s.log.Info().Msgf("Created short id %s for video %s", link.ShortID, videoID)

	base := s.baseURL(ctx)
	ctx.JSON(http.StatusOK, dto.ShortenResponse{
		ShortID:     link.ShortID,
		VideoID:     link.VideoID,
		ShortURL:    base + "/v/" + link.ShortID,
		TrackingURL: base + "/t/" + link.ShortID,
	})
}

func (s *service) baseURL(ctx *gin.Context) string {
	if s.cfg.BaseURL != "" {
		return s.cfg.BaseURL
	}

	scheme := "http"
	if ctx.Request.TLS != nil {
		scheme = "https"
	}
	if proto := ctx.GetHeader("X-Forwarded-Proto"); proto != "" {
		scheme = strings.ToLower(strings.TrimSpace(strings.Split(proto, ",")[0]))
	}
	return scheme + "://" + ctx.Request.Host
}

func (s *service) TrackedVisits(ctx *gin.Context) {
	entities, err := s.visits.List(ctx.Request.Context())
	if err != nil {
		s.log.Error().Msgf("failed to list visits: %v", err)
		dto.InternalServerError(ctx)
		return
	}

	visits := make([]Visit, 0, len(entities))
	for _, e := range entities {
		visits = append(visits, toServiceVisit(e))
	}
	ctx.JSON(http.StatusOK, visits)
}

func (s *service) LinkInfo(ctx *gin.Context) {
	shortID := ctx.Param("short_id")
	if !repo.IsShortID(shortID) {
		dto.ShortNotFoundError(ctx)
		return
	}

	link, err := s.links.Get(ctx.Request.Context(), shortID)
	if err != nil {
		if errors.Is(err, repo.ErrLinkNotFound) {
			dto.ShortNotFoundError(ctx)
			return
		}
		s.log.Error().Msgf("failed to get link %s: %v", shortID, err)
		dto.InternalServerError(ctx)
		return
	}

	dto.SuccessResponse(ctx, toServiceLink(*link, s.cfg.LinkTTL))
}

// Analytics groups the stored visits by browser, os, device or country.
func (s *service) Analytics(ctx *gin.Context) {
	field := strings.ToLower(ctx.DefaultQuery("by", "browser"))

	stats, err := s.visits.CountByField(ctx.Request.Context(), field)
	if err != nil {
		if errors.Is(err, repo.ErrUnsupportedField) {
			dto.BadResponseError(ctx, dto.FieldIncorrect,
				"'by' must be one of: "+strings.Join(repo.AnalyticsFields, ", "))
			return
		}
		s.log.Error().Msgf("failed to aggregate visits by %s: %v", field, err)
		dto.InternalServerError(ctx)
		return
	}

	result := FieldAnalytics{Field: field, Stats: stats}
	if result.Stats == nil {
		result.Stats = []repo.FieldStat{}
	}
	for _, st := range result.Stats {
		result.Total += st.Count
	}
	dto.SuccessResponse(ctx, result)
}

func (s *service) Health(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, dto.HealthResponse{Status: "ok", Message: "API is working"})
}
