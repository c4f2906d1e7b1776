package restapi

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	jwtverifier "github.com/okta/okta-jwt-verifier-golang"
	swaggerfiles "github.com/swaggo/files"     // swagger embed files
	ginSwagger "github.com/swaggo/gin-swagger" // gin-swagger middleware

	"github.com/jakekausler/campaign-manager-sub010/restapi/docs"
)

// Main creates the HTTP router, turns the registered REST methods into
// endpoint handlers, sets up the swagger endpoint for doc'n and issues a
// "router run" blocking until the HTTP REST Api is signaled to stop, via OS
// interrupts like CTRL-C and such. Setup must have been called beforehand.
func Main() {

	// Simple closure to for header token verification.
	verifyHeaderToken := func(realHandler func(c *gin.Context)) func(c *gin.Context) {
		return func(c *gin.Context) {
			if verify(c) {
				realHandler(c)
			}
		}
	}

	router := gin.Default()
	docs.SwaggerInfo.BasePath = "/api/v1"

	// Register the branching core's REST methods.
	RegisterMethod(POST, "/campaigns/:campaignId/branches", CreateBranch)
	RegisterMethod(GET, "/campaigns/:campaignId/branches", ListBranches)
	RegisterMethod(GET_ONE, "/branches/:id", GetBranch)
	RegisterMethod(DELETE, "/branches/:id", DeleteBranch)
	RegisterMethod(POST, "/branches/:id/fork", ForkBranch)
	RegisterMethod(POST, "/branches/:id/merge", MergeBranch)
	RegisterMethod(GET, "/branches/:id/history", MergeHistory)
	RegisterMethod(POST, "/branches/:id/versions", CreateVersion)
	RegisterMethod(GET, "/branches/:id/resolve", ResolveEntity)
	RegisterMethod(GET, "/branches/:id/entities/:entityType/:entityId/versions", ListVersions)
	RegisterMethod(POST, "/versions/:id/cherrypick", CherryPickVersion)
	RegisterMethod(POST, "/encounters/:id/resolve", ResolveEncounter)
	RegisterMethod(POST, "/events/:id/resolve", ResolveEvent)
	RegisterMethod(GET, "/effects/:id/executions", ListEffectExecutions)
	RegisterMethod(GET, "/cache/stats", CacheStats)

	v1 := router.Group("/api/v1")
	{
		restMethods := RestMethods()
		for _, rm := range restMethods {
			switch rm.Verb {
			case GET:
				fallthrough
			case GET_ONE:
				v1.GET(rm.Path, verifyHeaderToken(rm.Handler))
			case DELETE:
				v1.DELETE(rm.Path, verifyHeaderToken(rm.Handler))
			case POST:
				v1.POST(rm.Path, verifyHeaderToken(rm.Handler))
			case PUT:
				v1.PUT(rm.Path, verifyHeaderToken(rm.Handler))
			case PATCH:
				v1.PATCH(rm.Path, verifyHeaderToken(rm.Handler))
			default:
				panic(fmt.Sprintf("HTTP verb %d not supported", rm.Verb))
			}
		}
	}

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerfiles.Handler))
	router.Run("localhost:8080")
}

var toValidate = map[string]string{
	"aud": "api://default",
	"cid": os.Getenv("OKTA_CLIENT_ID"),
}

// Verify the bearer token in header.
func verify(c *gin.Context) bool {
	status := true

	// Allow easy debugging on dev.
	if os.Getenv("CAMPAIGN_ENV") == "DEV" {
		return true
	}

	token := c.Request.Header.Get("Authorization")
	if strings.HasPrefix(token, "Bearer ") {
		token = strings.TrimPrefix(token, "Bearer ")

		// Allow easy QA, bypass Okta based OAuth2 token verification w/ simple token equality check.
		if os.Getenv("CAMPAIGN_ENV") == "QA" {
			devToken := os.Getenv("CAMPAIGN_QA_TOKEN")
			if token == devToken {
				return true
			}
		}

		verifierSetup := jwtverifier.JwtVerifier{
			Issuer:           "https://" + os.Getenv("OKTA_DOMAIN") + "/oauth2/default",
			ClaimsToValidate: toValidate,
		}
		verifier := verifierSetup.New()
		_, err := verifier.VerifyAccessToken(token)
		if err != nil {
			c.String(http.StatusForbidden, err.Error())
			print(err.Error())
			status = false
		}
	} else {
		c.String(http.StatusUnauthorized, "Unauthorized")
		status = false
	}
	return status
}
