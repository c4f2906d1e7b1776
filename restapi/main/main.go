// Package contains the campaign manager REST API server. It wires the
// Cassandra and Redis connections, the engines and the HTTP surface, then
// blocks serving requests.
package main

import (
	"fmt"
	"os"

	"github.com/jakekausler/campaign-manager-sub010/archive"
	"github.com/jakekausler/campaign-manager-sub010/branch"
	"github.com/jakekausler/campaign-manager-sub010/cache"
	"github.com/jakekausler/campaign-manager-sub010/cassandra"
	"github.com/jakekausler/campaign-manager-sub010/effect"
	"github.com/jakekausler/campaign-manager-sub010/merge"
	"github.com/jakekausler/campaign-manager-sub010/redis"
	"github.com/jakekausler/campaign-manager-sub010/restapi"
	"github.com/jakekausler/campaign-manager-sub010/version"

	campaign "github.com/jakekausler/campaign-manager-sub010"
)

// @BasePath /api/v1

// @securityDefinitions.apikey Bearer
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.
func main() {
	cfg := campaign.LoadConfig()

	if _, err := redis.OpenConnection(redis.OptionsFromConfig(cfg)); err != nil {
		panic(fmt.Sprintf("can't connect to Redis, details: %v", err))
	}
	defer redis.CloseConnection()
	if _, err := cassandra.GetConnection(cassandra.ConfigFromProcess(cfg)); err != nil {
		panic(fmt.Sprintf("can't connect to Cassandra, details: %v", err))
	}
	defer cassandra.CloseConnection()

	redisCache := redis.NewClient()
	tracker := cache.NewTracker(cfg)
	store := cache.NewStore(redisCache, cfg, tracker)
	invalidator := cache.NewInvalidator(store)
	publisher := redis.NewPublisher()

	branches := cassandra.NewBranchRepository()
	versions := cassandra.NewVersionRepository()
	history := cassandra.NewMergeHistoryRepository()
	effects := cassandra.NewEffectRepository()
	executions := cassandra.NewExecutionRepository()
	encounters := cassandra.NewEncounterRepository()
	events := cassandra.NewEventRepository()
	membership := cassandra.NewMembership()
	auditor := cassandra.NewAudit()

	versionStore := version.NewStore(versions, branches, redisCache, invalidator, publisher)
	resolver := version.NewResolver(versions, branches)
	tree := branch.NewTree(branches, versions, redisCache, invalidator, publisher).
		WithMembership(membership).WithAudit(auditor)
	if bucket := os.Getenv("S3_BUCKET"); bucket != "" {
		s3Client := archive.Connect(archive.Config{
			HostEndpointUrl: os.Getenv("S3_ENDPOINT"),
			Region:          os.Getenv("S3_REGION"),
			Username:        os.Getenv("S3_USERNAME"),
			Password:        os.Getenv("S3_PASSWORD"),
			Bucket:          bucket,
		})
		archiver, err := archive.NewStore(s3Client, bucket)
		if err != nil {
			panic(fmt.Sprintf("can't set up the branch archive, details: %v", err))
		}
		tree = tree.WithArchiver(archiver)
	}
	merger := merge.NewEngine(tree, versions, branches, redisCache, invalidator, publisher).
		WithMembership(membership).WithAudit(auditor)
	effectEngine := effect.NewEngine(effects, executions, encounters, events, versionStore, resolver).
		WithMembership(membership).WithAudit(auditor)

	restapi.Setup(&restapi.Services{
		Tree:     tree,
		Merge:    merger,
		Effects:  effectEngine,
		Versions: versionStore,
		Resolver: resolver,
		History:  history,
		Cache:    store,
	})
	restapi.Main()
}
