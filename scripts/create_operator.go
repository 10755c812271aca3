package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/aett-tours/tours-api/config"
	"github.com/aett-tours/tours-api/databases"
	"github.com/aett-tours/tours-api/models"
)

// Provisions an operator account for the admin dashboard
// Usage: go run scripts/create_operator.go -username nikos -name "Nikos P" -password <password> [-insert]
func main() {
	username := flag.String("username", "", "operator login name")
	name := flag.String("name", "", "display name shown to guests")
	email := flag.String("email", "", "operator email")
	password := flag.String("password", "", "operator password")
	insert := flag.Bool("insert", false, "insert into DB_URI instead of printing a mongo shell command")
	flag.Parse()

	if *username == "" || *password == "" {
		fmt.Println("Usage: go run scripts/create_operator.go -username <name> -password <password> [-name <display name>] [-email <email>] [-insert]")
		os.Exit(1)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(*password), bcrypt.DefaultCost)
	if err != nil {
		fmt.Printf("Error generating hash: %v\n", err)
		os.Exit(1)
	}

	operator := models.Operator{
		ID:        uuid.NewString(),
		Username:  *username,
		Name:      *name,
		Email:     *email,
		Password:  string(hashedPassword),
		CreatedAt: time.Now().UTC(),
	}

	if !*insert {
		fmt.Printf("Bcrypt Hash: %s\n", operator.Password)
		fmt.Printf("\nTo insert in MongoDB, run:\n")
		fmt.Printf("db.operators.insertOne({\n")
		fmt.Printf("  _id: %q, username: %q, name: %q, email: %q,\n", operator.ID, operator.Username, operator.Name, operator.Email)
		fmt.Printf("  password: %q, createdAt: new Date()\n", operator.Password)
		fmt.Printf("})\n")
		return
	}

	conf, err := config.New()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := databases.NewClient(conf)
	if err != nil {
		zap.S().Fatalw("failed to create client", "error", err)
	}
	if err := client.Connect(ctx); err != nil {
		zap.S().Fatalw("failed to connect to database", "error", err)
	}
	defer client.Disconnect(context.Background())

	odb := databases.NewOperatorDatabase(databases.NewDatabase(conf, client))
	if _, err := odb.InsertOne(ctx, operator); err != nil {
		zap.S().Fatalw("failed to insert operator", "username", operator.Username, "error", err)
	}
	zap.S().Infow("operator created", "id", operator.ID, "username", operator.Username)
}
