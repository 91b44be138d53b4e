// Command nntpctl manages XSECRET users for a go-overchan-nntpd index.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"syscall"

	"golang.org/x/term"

	"github.com/go-while/go-overchan-nntpd/internal/store"
)

var appVersion = "-unset-"

func main() {
	log.Printf("nntpctl (version: %s)", appVersion)

	var (
		createUser = flag.Bool("create", false, "Create or update a user")
		listUsers  = flag.Bool("list", false, "List all users")
		deleteUser = flag.Bool("delete", false, "Delete a user")
		username   = flag.String("username", "", "Username for user operations")
		dbPath     = flag.String("db", "data/index.sq3", "Path to the index database")
		storeDir   = flag.String("store", "data/articles", "Path to the article blob store")
	)
	flag.Parse()

	if !*createUser && !*listUsers && !*deleteUser {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -create -username alice\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -list\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -delete -username alice\n", os.Args[0])
		os.Exit(1)
	}

	st, err := store.Open(*storeDir, *dbPath)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	switch {
	case *createUser:
		if *username == "" {
			log.Fatal("Username is required for user creation")
		}
		if err := createOrUpdateUser(st, *username); err != nil {
			log.Fatalf("Failed to create user: %v", err)
		}
	case *listUsers:
		if err := listAllUsers(st); err != nil {
			log.Fatalf("Failed to list users: %v", err)
		}
	case *deleteUser:
		if *username == "" {
			log.Fatal("Username is required for user deletion")
		}
		if err := st.DeleteUser(*username); err != nil {
			log.Fatalf("Failed to delete user: %v", err)
		}
		fmt.Printf("Deleted user %q\n", *username)
	}
}

func createOrUpdateUser(st *store.Store, username string) error {
	fmt.Print("Enter password: ")
	password, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	fmt.Println()

	fmt.Print("Confirm password: ")
	confirm, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return fmt.Errorf("failed to read password confirmation: %w", err)
	}
	fmt.Println()

	if string(password) != string(confirm) {
		return fmt.Errorf("passwords do not match")
	}
	if len(password) < 6 {
		return fmt.Errorf("password must be at least 6 characters long")
	}

	if err := st.AddUser(username, string(password)); err != nil {
		return err
	}
	fmt.Printf("Saved user %q\n", username)
	return nil
}

func listAllUsers(st *store.Store) error {
	names, err := st.ListUsers()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Println("No users found")
		return nil
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}
