package restapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	campaign "github.com/jakekausler/campaign-manager-sub010"
	"github.com/jakekausler/campaign-manager-sub010/branch"
	"github.com/jakekausler/campaign-manager-sub010/cache"
	"github.com/jakekausler/campaign-manager-sub010/effect"
	"github.com/jakekausler/campaign-manager-sub010/merge"
	"github.com/jakekausler/campaign-manager-sub010/version"
)

// Services carries the wired engines the handlers dispatch into.
type Services struct {
	Tree     *branch.Tree
	Merge    *merge.Engine
	Effects  *effect.Engine
	Versions *version.Store
	Resolver *version.Resolver
	History  campaign.MergeHistoryRepository
	Cache    *cache.Store
}

var services *Services

// Setup installs the wired services; call once before Main.
func Setup(s *Services) {
	services = s
}

// statusFor maps core error classifications onto HTTP statuses.
func statusFor(err error) int {
	switch campaign.CodeOf(err) {
	case campaign.NotFound:
		return http.StatusNotFound
	case campaign.BadRequest, campaign.InvalidAncestor, campaign.BeforeDivergence:
		return http.StatusBadRequest
	case campaign.UnresolvedConflicts, campaign.WriteConflict:
		return http.StatusConflict
	case campaign.NotImplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	body := gin.H{"message": err.Error()}
	var e campaign.Error
	if errors.As(err, &e) && e.UserData != nil {
		body["details"] = e.UserData
	}
	c.IndentedJSON(statusFor(err), body)
}

// currentUser reads the identity the verified token middleware stashed in the
// request headers.
func currentUser(c *gin.Context) campaign.AuthenticatedUser {
	return campaign.AuthenticatedUser{
		ID:    c.GetHeader("X-User-ID"),
		Email: c.GetHeader("X-User-Email"),
		Role:  c.GetHeader("X-User-Role"),
	}
}

func pathUUID(c *gin.Context, name string) (campaign.UUID, bool) {
	id, err := campaign.ParseUUID(c.Param(name))
	if err != nil {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"message": "invalid " + name})
		return campaign.NilUUID, false
	}
	return id, true
}

func parseTime(c *gin.Context, value, name string) (time.Time, bool) {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"message": "invalid " + name + ", want RFC3339"})
		return time.Time{}, false
	}
	return t, true
}

type createBranchRequest struct {
	Name        string     `json:"name" binding:"required"`
	Description string     `json:"description"`
	ParentID    *string    `json:"parentId"`
	DivergedAt  *time.Time `json:"divergedAt"`
}

// CreateBranch godoc
// @Summary CreateBranch adds a branch to a campaign.
// @Schemes
// @Description CreateBranch inserts a new branch record; use Fork to snapshot-copy state.
// @Tags Branches
// @Accept json
// @Produce json
// @Param campaignId path string true "Campaign ID"
// @Param branch body createBranchRequest true "Branch to create"
// @Failure 400 {object} map[string]any
// @Failure 404 {object} map[string]any
// @Success 201 {object} campaign.Branch
// @Router /campaigns/{campaignId}/branches [post]
// @Security Bearer
func CreateBranch(c *gin.Context) {
	campaignID, ok := pathUUID(c, "campaignId")
	if !ok {
		return
	}
	var req createBranchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	create := branch.CreateRequest{
		CampaignID:  campaignID,
		Name:        req.Name,
		Description: req.Description,
		DivergedAt:  req.DivergedAt,
	}
	if req.ParentID != nil {
		parentID, err := campaign.ParseUUID(*req.ParentID)
		if err != nil {
			c.IndentedJSON(http.StatusBadRequest, gin.H{"message": "invalid parentId"})
			return
		}
		create.ParentID = &parentID
	}
	b, err := services.Tree.Create(c, create, currentUser(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.IndentedJSON(http.StatusCreated, b)
}

// ListBranches godoc
// @Summary ListBranches returns the campaign's branches.
// @Schemes
// @Tags Branches
// @Produce json
// @Param campaignId path string true "Campaign ID"
// @Failure 400 {object} map[string]any
// @Success 200 {object} []campaign.Branch
// @Router /campaigns/{campaignId}/branches [get]
// @Security Bearer
func ListBranches(c *gin.Context) {
	campaignID, ok := pathUUID(c, "campaignId")
	if !ok {
		return
	}
	branches, err := services.Tree.List(c, campaignID)
	if err != nil {
		fail(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, branches)
}

// GetBranch godoc
// @Summary GetBranch returns one branch.
// @Schemes
// @Tags Branches
// @Produce json
// @Param id path string true "Branch ID"
// @Failure 404 {object} map[string]any
// @Success 200 {object} campaign.Branch
// @Router /branches/{id} [get]
// @Security Bearer
func GetBranch(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	b, err := services.Tree.Get(c, id)
	if err != nil {
		fail(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, b)
}

// DeleteBranch godoc
// @Summary DeleteBranch removes a branch and its versions.
// @Schemes
// @Description DeleteBranch archives the branch bundle, removes its rows and drops its cache entries. Branches with children are rejected.
// @Tags Branches
// @Produce json
// @Param id path string true "Branch ID"
// @Failure 400 {object} map[string]any
// @Failure 404 {object} map[string]any
// @Success 204
// @Router /branches/{id} [delete]
// @Security Bearer
func DeleteBranch(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	if err := services.Tree.Delete(c, id, currentUser(c)); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type forkRequest struct {
	Name        string    `json:"name" binding:"required"`
	Description string    `json:"description"`
	WorldTime   time.Time `json:"worldTime" binding:"required"`
}

// ForkBranch godoc
// @Summary ForkBranch snapshots a branch at a world time into a new child.
// @Schemes
// @Tags Branches
// @Accept json
// @Produce json
// @Param id path string true "Source branch ID"
// @Param fork body forkRequest true "Fork arguments"
// @Failure 400 {object} map[string]any
// @Failure 404 {object} map[string]any
// @Success 201 {object} campaign.ForkResult
// @Router /branches/{id}/fork [post]
// @Security Bearer
func ForkBranch(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req forkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	result, err := services.Tree.Fork(c, id, req.Name, req.Description, req.WorldTime, currentUser(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.IndentedJSON(http.StatusCreated, result)
}

type mergeRequest struct {
	SourceBranchID   string                        `json:"sourceBranchId" binding:"required"`
	CommonAncestorID string                        `json:"commonAncestorId" binding:"required"`
	WorldTime        time.Time                     `json:"worldTime" binding:"required"`
	Resolutions      []campaign.ConflictResolution `json:"resolutions"`
}

// MergeBranch godoc
// @Summary MergeBranch three-way merges a source branch into the target.
// @Schemes
// @Description MergeBranch merges relative to the common ancestor. Unresolved conflicts return 409 with the conflict list; nothing is written.
// @Tags Branches
// @Accept json
// @Produce json
// @Param id path string true "Target branch ID"
// @Param merge body mergeRequest true "Merge arguments"
// @Failure 400 {object} map[string]any
// @Failure 404 {object} map[string]any
// @Failure 409 {object} map[string]any
// @Success 200 {object} campaign.MergeResult
// @Router /branches/{id}/merge [post]
// @Security Bearer
func MergeBranch(c *gin.Context) {
	targetID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req mergeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	sourceID, err := campaign.ParseUUID(req.SourceBranchID)
	if err != nil {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"message": "invalid sourceBranchId"})
		return
	}
	ancestorID, err := campaign.ParseUUID(req.CommonAncestorID)
	if err != nil {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"message": "invalid commonAncestorId"})
		return
	}
	result, err := services.Merge.ExecuteMerge(c, merge.Request{
		SourceBranchID:   sourceID,
		TargetBranchID:   targetID,
		CommonAncestorID: ancestorID,
		WorldTime:        req.WorldTime,
		Resolutions:      req.Resolutions,
	}, currentUser(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, result)
}

// MergeHistory godoc
// @Summary MergeHistory lists merges into the branch.
// @Schemes
// @Tags Branches
// @Produce json
// @Param id path string true "Target branch ID"
// @Failure 400 {object} map[string]any
// @Success 200 {object} []campaign.MergeHistory
// @Router /branches/{id}/history [get]
// @Security Bearer
func MergeHistory(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	histories, err := services.History.ListForBranch(c, id)
	if err != nil {
		fail(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, histories)
}

type cherryPickRequest struct {
	TargetBranchID string                        `json:"targetBranchId" binding:"required"`
	Resolutions    []campaign.ConflictResolution `json:"resolutions"`
}

// CherryPickVersion godoc
// @Summary CherryPickVersion applies one version onto another branch.
// @Schemes
// @Description CherryPickVersion returns success=false with the conflict list when conflicts remain unresolved; the caller may retry with resolutions.
// @Tags Versions
// @Accept json
// @Produce json
// @Param id path string true "Version ID"
// @Param cherrypick body cherryPickRequest true "Cherry-pick arguments"
// @Failure 400 {object} map[string]any
// @Failure 404 {object} map[string]any
// @Success 200 {object} campaign.CherryPickResult
// @Router /versions/{id}/cherrypick [post]
// @Security Bearer
func CherryPickVersion(c *gin.Context) {
	versionID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req cherryPickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	targetID, err := campaign.ParseUUID(req.TargetBranchID)
	if err != nil {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"message": "invalid targetBranchId"})
		return
	}
	result, err := services.Merge.CherryPick(c, versionID, targetID, currentUser(c), req.Resolutions)
	if err != nil {
		fail(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, result)
}

type createVersionRequest struct {
	EntityType string            `json:"entityType" binding:"required"`
	EntityID   string            `json:"entityId" binding:"required"`
	ValidFrom  time.Time         `json:"validFrom" binding:"required"`
	ValidTo    *time.Time        `json:"validTo"`
	Payload    campaign.Document `json:"payload" binding:"required"`
}

// CreateVersion godoc
// @Summary CreateVersion appends a new version of an entity on a branch.
// @Schemes
// @Description CreateVersion closes the previously open interval at validFrom in the same commit.
// @Tags Versions
// @Accept json
// @Produce json
// @Param id path string true "Branch ID"
// @Param version body createVersionRequest true "Version to create"
// @Failure 400 {object} map[string]any
// @Failure 404 {object} map[string]any
// @Success 201 {object} campaign.Version
// @Router /branches/{id}/versions [post]
// @Security Bearer
func CreateVersion(c *gin.Context) {
	branchID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req createVersionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	v, err := services.Versions.CreateVersion(c, campaign.EntityType(req.EntityType), req.EntityID, branchID,
		req.ValidFrom, req.ValidTo, req.Payload, currentUser(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.IndentedJSON(http.StatusCreated, v)
}

// ResolveEntity godoc
// @Summary ResolveEntity returns an entity's payload as of a world time on a branch.
// @Schemes
// @Description ResolveEntity walks the branch ancestry honoring divergence points.
// @Tags Versions
// @Produce json
// @Param id path string true "Branch ID"
// @Param entityType query string true "Entity type"
// @Param entityId query string true "Entity ID"
// @Param worldTime query string true "World time (RFC3339)"
// @Failure 400 {object} map[string]any
// @Failure 404 {object} map[string]any
// @Success 200 {object} map[string]any
// @Router /branches/{id}/resolve [get]
// @Security Bearer
func ResolveEntity(c *gin.Context) {
	branchID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	worldTime, ok := parseTime(c, c.Query("worldTime"), "worldTime")
	if !ok {
		return
	}
	doc, found, err := services.Resolver.ResolveDocument(c, campaign.EntityType(c.Query("entityType")),
		c.Query("entityId"), branchID, worldTime)
	if err != nil {
		fail(c, err)
		return
	}
	if !found {
		c.IndentedJSON(http.StatusNotFound, gin.H{"message": "no version resolvable at the given world time"})
		return
	}
	c.IndentedJSON(http.StatusOK, doc)
}

// ListVersions godoc
// @Summary ListVersions returns an entity's versions on one branch.
// @Schemes
// @Tags Versions
// @Produce json
// @Param id path string true "Branch ID"
// @Param entityType path string true "Entity type"
// @Param entityId path string true "Entity ID"
// @Param from query string false "Window start (RFC3339)"
// @Param to query string false "Window end (RFC3339)"
// @Failure 400 {object} map[string]any
// @Success 200 {object} []campaign.Version
// @Router /branches/{id}/entities/{entityType}/{entityId}/versions [get]
// @Security Bearer
func ListVersions(c *gin.Context) {
	branchID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var window campaign.TimeWindow
	if from := c.Query("from"); from != "" {
		t, ok := parseTime(c, from, "from")
		if !ok {
			return
		}
		window.From = t
	}
	if to := c.Query("to"); to != "" {
		t, ok := parseTime(c, to, "to")
		if !ok {
			return
		}
		window.To = t
	}
	versions, err := services.Versions.VersionsForEntity(c, campaign.EntityType(c.Param("entityType")),
		c.Param("entityId"), branchID, window)
	if err != nil {
		fail(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, versions)
}

type resolveRequest struct {
	BranchID  string            `json:"branchId" binding:"required"`
	WorldTime time.Time         `json:"worldTime" binding:"required"`
	Context   campaign.Document `json:"context"`
}

// ResolveEncounter godoc
// @Summary ResolveEncounter runs the encounter's effects and marks it resolved.
// @Schemes
// @Description ResolveEncounter executes PRE, ON_RESOLVE and POST effects in order and persists the result once. Failed effects are reported in the summary, not raised.
// @Tags Resolution
// @Accept json
// @Produce json
// @Param id path string true "Encounter ID"
// @Param resolve body resolveRequest true "Resolution arguments"
// @Failure 400 {object} map[string]any
// @Failure 404 {object} map[string]any
// @Success 200 {object} effect.EncounterResolution
// @Router /encounters/{id}/resolve [post]
// @Security Bearer
func ResolveEncounter(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	branchID, err := campaign.ParseUUID(req.BranchID)
	if err != nil {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"message": "invalid branchId"})
		return
	}
	result, err := services.Effects.ResolveEncounter(c, c.Param("id"), branchID, req.WorldTime, req.Context, currentUser(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, result)
}

// ResolveEvent godoc
// @Summary ResolveEvent runs the event's effects and marks it completed.
// @Schemes
// @Tags Resolution
// @Accept json
// @Produce json
// @Param id path string true "Event ID"
// @Param resolve body resolveRequest true "Resolution arguments"
// @Failure 400 {object} map[string]any
// @Failure 404 {object} map[string]any
// @Success 200 {object} effect.EventResolution
// @Router /events/{id}/resolve [post]
// @Security Bearer
func ResolveEvent(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	branchID, err := campaign.ParseUUID(req.BranchID)
	if err != nil {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"message": "invalid branchId"})
		return
	}
	result, err := services.Effects.ResolveEvent(c, c.Param("id"), branchID, req.WorldTime, req.Context, currentUser(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, result)
}

// ListEffectExecutions godoc
// @Summary ListEffectExecutions returns the effect's execution records.
// @Schemes
// @Tags Resolution
// @Produce json
// @Param id path string true "Effect ID"
// @Failure 400 {object} map[string]any
// @Success 200 {object} []campaign.EffectExecution
// @Router /effects/{id}/executions [get]
// @Security Bearer
func ListEffectExecutions(c *gin.Context) {
	effectID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	executions, err := services.Effects.Executions(c, effectID)
	if err != nil {
		fail(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, executions)
}

// CacheStats godoc
// @Summary CacheStats returns the per-type cache counters.
// @Schemes
// @Tags Cache
// @Produce json
// @Success 200 {object} cache.Stats
// @Router /cache/stats [get]
// @Security Bearer
func CacheStats(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, services.Cache.GetStats())
}
