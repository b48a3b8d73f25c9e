package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/tutoring-api/internal/models"
	"github.com/noah-isme/tutoring-api/internal/repository"
	"github.com/noah-isme/tutoring-api/pkg/config"
	"github.com/noah-isme/tutoring-api/pkg/database"
	"github.com/noah-isme/tutoring-api/pkg/logger"
)

const usage = `usage: admin <command> [flags]

commands:
  create-user     -email -password -name -role ADMIN|STUDENT [-student-id]
  create-student  -name
  ensure-subject  -name
  migrate
`

type userInput struct {
	email     string
	password  string
	name      string
	role      string
	studentID string
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect postgres: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "create-user":
		input, err := parseUserFlags(args, os.Stderr)
		if err != nil {
			log.Fatal(err)
		}
		user, err := buildUser(input, bcrypt.DefaultCost)
		if err != nil {
			log.Fatal(err)
		}
		if err := repository.NewUserRepository(db).Upsert(ctx, user); err != nil {
			log.Fatalf("failed to save user: %v", err)
		}
		fmt.Printf("user %s (%s) saved with id %s\n", user.Email, user.Role, user.ID)
	case "create-student":
		name, err := parseName(cmd, args, os.Stderr)
		if err != nil {
			log.Fatal(err)
		}
		student := &models.Student{FullName: name}
		if err := repository.NewDirectoryRepository(db).CreateStudent(ctx, student); err != nil {
			log.Fatalf("failed to create student: %v", err)
		}
		fmt.Printf("student %q created with id %s\n", student.FullName, student.ID)
	case "ensure-subject":
		name, err := parseName(cmd, args, os.Stderr)
		if err != nil {
			log.Fatal(err)
		}
		subject, err := repository.NewDirectoryRepository(db).EnsureSubject(ctx, name)
		if err != nil {
			log.Fatalf("failed to ensure subject: %v", err)
		}
		fmt.Printf("subject %q has id %s\n", subject.Name, subject.ID)
	case "migrate":
		if err := database.RunMigrations(db.DB, logr); err != nil {
			log.Fatalf("failed to run migrations: %v", err)
		}
		fmt.Println("migrations applied")
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func parseUserFlags(args []string, output io.Writer) (userInput, error) {
	var in userInput
	fs := flag.NewFlagSet("create-user", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&in.email, "email", "", "login email")
	fs.StringVar(&in.password, "password", "", "plain-text password, hashed before storage")
	fs.StringVar(&in.name, "name", "", "display name")
	fs.StringVar(&in.role, "role", string(models.RoleAdmin), "ADMIN or STUDENT")
	fs.StringVar(&in.studentID, "student-id", "", "student record linked to a STUDENT login")
	if err := fs.Parse(args); err != nil {
		return userInput{}, err
	}
	return in, nil
}

func parseName(cmd string, args []string, output io.Writer) (string, error) {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(output)
	name := fs.String("name", "", "name")
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	if strings.TrimSpace(*name) == "" {
		return "", errors.New("-name is required")
	}
	return strings.TrimSpace(*name), nil
}

func buildUser(in userInput, cost int) (*models.User, error) {
	email := strings.ToLower(strings.TrimSpace(in.email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, errors.New("-email must be a valid address")
	}
	if len(in.password) < 8 {
		return nil, errors.New("-password must be at least 8 characters")
	}
	role := models.UserRole(strings.ToUpper(strings.TrimSpace(in.role)))
	if !role.Valid() {
		return nil, fmt.Errorf("-role must be %s or %s", models.RoleAdmin, models.RoleStudent)
	}

	user := &models.User{
		Email:    email,
		FullName: strings.TrimSpace(in.name),
		Role:     role,
		Active:   true,
	}
	switch {
	case role == models.RoleStudent && in.studentID == "":
		return nil, errors.New("-student-id is required for STUDENT logins")
	case role == models.RoleStudent:
		studentID := in.studentID
		user.StudentID = &studentID
	case in.studentID != "":
		return nil, errors.New("-student-id only applies to STUDENT logins")
	}
	if user.FullName == "" {
		user.FullName = email
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.password), cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user.PasswordHash = string(hash)
	return user, nil
}
