package handlers

// handlers expose the control surface to the UI layer: player and group
// listing, status selection, device commands, and the per-profile playback
// queue. Profile identity rides on the profileId query parameter.

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"bluhub/config"
	"bluhub/database"
	"bluhub/device"
	"bluhub/models"
	"bluhub/registry"
	"bluhub/sentry"
	"bluhub/status"
	"bluhub/topology"
)

type Manager struct {
	Config   *config.Config
	DB       *database.Database
	Registry *registry.Registry
	Status   *status.Synchronizer
	Devices  device.Client
}

func NewManager(cfg *config.Config, db *database.Database, reg *registry.Registry,
	sync *status.Synchronizer, devices device.Client) *Manager {
	return &Manager{
		Config:   cfg,
		DB:       db,
		Registry: reg,
		Status:   sync,
		Devices:  devices,
	}
}

func (m *Manager) Register(router *gin.Engine) {
	router.GET("/health", m.Health)

	router.GET("/players", m.ListPlayers)
	router.POST("/players/refresh", m.RefreshPlayers)
	router.GET("/groups", m.ListGroups)

	router.POST("/players/:id/select", m.SelectPlayer)
	router.DELETE("/players/select", m.DeselectPlayer)
	router.GET("/players/status", m.PlayerStatus)
	router.POST("/players/:id/command", m.PlayerCommand)

	router.GET("/queue", m.GetQueue)
	router.POST("/queue", m.SetQueue)
	router.PUT("/queue", m.UpdateQueueIndex)
	router.DELETE("/queue", m.ClearQueue)

	router.GET("/profiles", m.ListProfiles)
	router.POST("/profiles", m.CreateProfile)
	router.DELETE("/profiles/:id", m.DeleteProfile)
}

func (m *Manager) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// --- Players & topology ---

func (m *Manager) ListPlayers(c *gin.Context) {
	res := topology.Resolve(m.Registry.Players())
	players := topology.Selectable(res)
	if players == nil {
		players = []models.Player{}
	}
	c.JSON(http.StatusOK, gin.H{
		"players":     players,
		"fromCache":   m.Registry.FromCache(),
		"refreshedAt": m.Registry.RefreshedAt(),
	})
}

func (m *Manager) RefreshPlayers(c *gin.Context) {
	players, err := m.Registry.Refresh(c.Request.Context())
	if err != nil {
		log.Errorf("refresh failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "discovery failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"players": players})
}

func (m *Manager) ListGroups(c *gin.Context) {
	res := topology.Resolve(m.Registry.Players())
	c.JSON(http.StatusOK, res)
}

// selectablePlayer resolves a player ID against the current topology. Stereo
// secondaries are not addressable; they miss here by design.
func (m *Manager) selectablePlayer(id string) (models.Player, bool) {
	res := topology.Resolve(m.Registry.Players())
	for _, p := range topology.Selectable(res) {
		if p.ID == id {
			return p, true
		}
	}
	return models.Player{}, false
}

func (m *Manager) SelectPlayer(c *gin.Context) {
	player, ok := m.selectablePlayer(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "player not found"})
		return
	}
	m.Status.Select(player)
	c.JSON(http.StatusOK, gin.H{"selected": player.ID})
}

func (m *Manager) DeselectPlayer(c *gin.Context) {
	m.Status.Deselect()
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (m *Manager) PlayerStatus(c *gin.Context) {
	target := m.Status.Target()
	if target == nil {
		c.JSON(http.StatusOK, gin.H{"selected": nil})
		return
	}
	st, stale := m.Status.Current()
	c.JSON(http.StatusOK, gin.H{
		"selected": target.ID,
		"status":   st,
		"stale":    stale,
	})
}

type commandRequest struct {
	Action string            `json:"action"`
	Params map[string]string `json:"params"`
}

func (m *Manager) PlayerCommand(c *gin.Context) {
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	action, err := device.ParseAction(req.Action)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	player, ok := m.selectablePlayer(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "player not found"})
		return
	}

	if err := m.Devices.Command(c.Request.Context(), player.Address, action, req.Params); err != nil {
		if errors.Is(err, device.ErrUnavailable) {
			c.JSON(http.StatusBadGateway, gin.H{"error": "player did not respond"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// --- Playback queue ---

func profileID(c *gin.Context) (string, bool) {
	id := c.Query("profileId")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "profileId is required"})
		return "", false
	}
	return id, true
}

// queueError maps queue-manager failures: missing profile is an expected
// NotFound, anything else is a storage fault worth reporting.
func queueError(c *gin.Context, err error) {
	if errors.Is(err, database.ErrProfileNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
		return
	}
	sentry.ReportError(err)
	log.Errorf("queue operation failed: %v", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "storage failure"})
}

func (m *Manager) GetQueue(c *gin.Context) {
	id, ok := profileID(c)
	if !ok {
		return
	}
	queue, err := m.DB.GetQueue(id)
	if err != nil {
		queueError(c, err)
		return
	}
	// No queue ever set is null, not an error.
	c.JSON(http.StatusOK, queue)
}

type setQueueRequest struct {
	SourceType string                `json:"sourceType"`
	SourceID   string                `json:"sourceId"`
	SourceName string                `json:"sourceName"`
	Tracks     []database.QueueTrack `json:"tracks"`
}

var validSourceKinds = map[string]bool{
	"album":    true,
	"playlist": true,
	"none":     true,
}

func (m *Manager) SetQueue(c *gin.Context) {
	id, ok := profileID(c)
	if !ok {
		return
	}

	var req setQueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if req.SourceType == "" {
		req.SourceType = "none"
	}
	if !validSourceKinds[req.SourceType] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sourceType must be album, playlist or none"})
		return
	}

	queue, err := m.DB.SetQueue(id, req.SourceType, req.SourceID, req.SourceName, req.Tracks)
	if err != nil {
		queueError(c, err)
		return
	}
	c.JSON(http.StatusOK, queue)
}

type updateIndexRequest struct {
	CurrentIndex *int `json:"currentIndex"`
}

func (m *Manager) UpdateQueueIndex(c *gin.Context) {
	id, ok := profileID(c)
	if !ok {
		return
	}

	var req updateIndexRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.CurrentIndex == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "currentIndex is required"})
		return
	}

	updated, err := m.DB.UpdateQueueIndex(id, *req.CurrentIndex)
	if err != nil {
		queueError(c, err)
		return
	}
	if !updated {
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "no queue for profile"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (m *Manager) ClearQueue(c *gin.Context) {
	id, ok := profileID(c)
	if !ok {
		return
	}

	cleared, err := m.DB.ClearQueue(id)
	if err != nil {
		queueError(c, err)
		return
	}
	if !cleared {
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "no queue for profile"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// --- Profiles ---

func (m *Manager) ListProfiles(c *gin.Context) {
	profiles, err := m.DB.ListProfiles()
	if err != nil {
		queueError(c, err)
		return
	}
	if profiles == nil {
		profiles = []database.Profile{}
	}
	c.JSON(http.StatusOK, gin.H{"profiles": profiles})
}

type createProfileRequest struct {
	Name string `json:"name"`
}

func (m *Manager) CreateProfile(c *gin.Context) {
	var req createProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	profile, err := m.DB.CreateProfile(req.Name)
	if err != nil {
		queueError(c, err)
		return
	}
	c.JSON(http.StatusCreated, profile)
}

func (m *Manager) DeleteProfile(c *gin.Context) {
	deleted, err := m.DB.DeleteProfile(c.Param("id"))
	if err != nil {
		queueError(c, err)
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
