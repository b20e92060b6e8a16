// issue-token mints a console bearer token for a user and role, signed with
// JWT_SECRET.
//
// Usage:
//
//	JWT_SECRET=... go run ./cmd/issue-token -id u-ops-cn -name "Li Wei" -role OPS_CHINA
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/mmdatafocus/freight_backend/models"
	"github.com/mmdatafocus/freight_backend/utils"
)

func main() {
	id := flag.String("id", "", "actor id (token subject)")
	name := flag.String("name", "", "display name")
	role := flag.String("role", models.RoleNameAdmin, "OPS_CHINA | OPS_TANZANIA | FINANCE | ADMIN")
	ttl := flag.Duration("ttl", 12*time.Hour, "token lifetime")
	flag.Parse()

	actor, err := models.NewActor(*id, *name, *role)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid actor: %v\n", err)
		os.Exit(1)
	}
	token, err := utils.JwtGenerate(actor.ID, actor.Name, actor.RoleName(), *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to sign token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
