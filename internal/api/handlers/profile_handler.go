package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/sdk-detect/sdk-detect-go/internal/domain"
	"github.com/sdk-detect/sdk-detect-go/internal/fingerprint"
	"github.com/sdk-detect/sdk-detect-go/internal/loader"
	"github.com/sdk-detect/sdk-detect-go/internal/middleware"
	"github.com/sdk-detect/sdk-detect-go/internal/service"
)

// ProfileQuery 指纹库查询协作方
type ProfileQuery interface {
	List(ctx context.Context, page, limit int, category, search string) ([]domain.LibraryProfile, int64, error)
	FindByNameVersion(ctx context.Context, name, version string) (*domain.LibraryProfile, error)
	Delete(ctx context.Context, id uint) error
}

// ProfileHandler 指纹库管理接口
type ProfileHandler struct {
	profileService *service.ProfileService
	profiles       ProfileQuery
	metrics        *middleware.PrometheusMetrics
	libraryDir     string
	logger         *logrus.Logger
}

// NewProfileHandler 创建指纹库接口处理器
func NewProfileHandler(profileService *service.ProfileService, profiles ProfileQuery, metrics *middleware.PrometheusMetrics, libraryDir string, logger *logrus.Logger) *ProfileHandler {
	return &ProfileHandler{
		profileService: profileService,
		profiles:       profiles,
		metrics:        metrics,
		libraryDir:     libraryDir,
		logger:         logger,
	}
}

// 单个库构件上传上限
const maxLibrarySize = 200 * 1024 * 1024

// UploadLibrary 上传库构件与描述文件并建档
// POST /api/profiles，multipart 字段：library (.jar/.aar)、description (.xml)
func (h *ProfileHandler) UploadLibrary(c *gin.Context) {
	libFile, err := c.FormFile("library")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "library file is required",
		})
		return
	}

	descFile, err := c.FormFile("description")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "description file is required",
		})
		return
	}

	if !loader.IsSupportedArtifact(libFile.Filename) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "unsupported library format, expected .jar or .aar",
		})
		return
	}
	if !strings.HasSuffix(strings.ToLower(descFile.Filename), ".xml") {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "description must be an XML file",
		})
		return
	}
	if libFile.Size > maxLibrarySize {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("library exceeds size limit (%dMB)", maxLibrarySize/(1024*1024)),
		})
		return
	}

	if err := os.MkdirAll(h.libraryDir, 0755); err != nil {
		h.logger.WithError(err).Error("Failed to create library directory")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to create library directory",
		})
		return
	}

	libPath := filepath.Join(h.libraryDir, filepath.Base(libFile.Filename))
	descPath := filepath.Join(h.libraryDir, filepath.Base(descFile.Filename))

	if err := c.SaveUploadedFile(libFile, libPath); err != nil {
		h.logger.WithError(err).Error("Failed to save library file")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to save library file",
		})
		return
	}
	if err := c.SaveUploadedFile(descFile, descPath); err != nil {
		os.Remove(libPath)
		h.logger.WithError(err).Error("Failed to save description file")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to save description file",
		})
		return
	}

	profile, err := h.profileService.ProfileLibrary(c.Request.Context(), libPath, descPath)
	if err != nil {
		h.recordProfileOp("create", "failure")

		if errors.Is(err, fingerprint.ErrEmptyFingerprint) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error": "library contains no profileable classes",
			})
			return
		}

		h.logger.WithError(err).WithField("library", libFile.Filename).Error("Failed to profile library")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to profile library",
		})
		return
	}

	h.recordProfileOp("create", "success")

	c.JSON(http.StatusCreated, gin.H{
		"profile": profileToResponse(profile),
	})
}

// ListProfiles 分页查询指纹库
// GET /api/profiles?page=1&page_size=20&category=analytics&search=okhttp
func (h *ProfileHandler) ListProfiles(c *gin.Context) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page <= 0 {
		page = 1
	}
	pageSize, err := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if err != nil || pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	category := c.Query("category")
	search := c.Query("search")

	profiles, total, err := h.profiles.List(c.Request.Context(), page, pageSize, category, search)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list profiles")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to list profiles",
		})
		return
	}

	profileList := make([]gin.H, len(profiles))
	for i := range profiles {
		profileList[i] = profileToResponse(&profiles[i])
	}

	totalPages := (total + int64(pageSize) - 1) / int64(pageSize)

	c.JSON(http.StatusOK, gin.H{
		"profiles":    profileList,
		"total":       total,
		"page":        page,
		"page_size":   pageSize,
		"total_pages": totalPages,
	})
}

// LookupProfile 按名称和版本精确查询
// GET /api/profiles/lookup?name=okhttp&version=4.9.0
func (h *ProfileHandler) LookupProfile(c *gin.Context) {
	name := c.Query("name")
	version := c.Query("version")
	if name == "" || version == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "name and version are required",
		})
		return
	}

	profile, err := h.profiles.FindByNameVersion(c.Request.Context(), name, version)
	if err != nil {
		h.logger.WithError(err).Error("Failed to look up profile")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to look up profile",
		})
		return
	}
	if profile == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "profile not found",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"profile": profileToResponse(profile),
	})
}

// DeleteProfile 删除指纹
// DELETE /api/profiles/:id
func (h *ProfileHandler) DeleteProfile(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid profile id",
		})
		return
	}

	if err := h.profiles.Delete(c.Request.Context(), uint(id)); err != nil {
		h.recordProfileOp("delete", "failure")
		h.logger.WithError(err).WithField("profile_id", id).Error("Failed to delete profile")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to delete profile",
		})
		return
	}

	h.recordProfileOp("delete", "success")

	c.JSON(http.StatusOK, gin.H{
		"message": "profile deleted",
	})
}

func (h *ProfileHandler) recordProfileOp(operation, status string) {
	if h.metrics != nil {
		h.metrics.RecordProfileOperation(operation, status)
	}
}

// profileToResponse 指纹响应格式，不携带指纹正文
func profileToResponse(p *domain.LibraryProfile) gin.H {
	return gin.H{
		"id":             p.ID,
		"name":           p.Name,
		"version":        p.Version,
		"category":       p.Category,
		"root_package":   p.RootPackage,
		"multiple_roots": p.MultipleRoots,
		"class_count":    p.ClassCount,
		"package_count":  p.PackageCount,
		"source_file":    p.SourceFile,
		"source_sha256":  p.SourceSHA256,
		"created_at":     p.CreatedAt,
	}
}
