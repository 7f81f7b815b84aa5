package cmd

import (
	"fmt"
	"strings"

	"videoflix/config"
	"videoflix/core/auth"
	"videoflix/db"
	"videoflix/model"
	"videoflix/repository"

	"github.com/spf13/cobra"
)

var (
	newUsername string
	newEmail    string
	newPassword string
)

var createUserCmd = &cobra.Command{
	Use:   "create-user",
	Short: "创建可以登录的用户",
	RunE: func(cmd *cobra.Command, args []string) error {
		newUsername = strings.TrimSpace(newUsername)
		newEmail = strings.TrimSpace(newEmail)
		if newUsername == "" || newEmail == "" || len(newPassword) < 8 {
			return fmt.Errorf("username, email and a password of at least 8 characters are required")
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		gdb, err := db.Open(cfg)
		if err != nil {
			return err
		}
		defer db.Close(gdb)

		hash, err := auth.HashPassword(newPassword)
		if err != nil {
			return fmt.Errorf("hash password: %w", err)
		}
		user := &model.User{
			Username:     newUsername,
			Email:        newEmail,
			PasswordHash: hash,
			IsActive:     true,
		}
		if err := repository.NewGormUserRepository(gdb).Create(cmd.Context(), user); err != nil {
			return err
		}
		fmt.Printf("User %s created (id %d)\n", user.Username, user.ID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(createUserCmd)

	createUserCmd.Flags().StringVarP(&newUsername, "username", "u", "", "用户名")
	createUserCmd.Flags().StringVarP(&newEmail, "email", "e", "", "邮箱")
	createUserCmd.Flags().StringVarP(&newPassword, "password", "p", "", "密码 (至少 8 位)")
	createUserCmd.MarkFlagRequired("username")
	createUserCmd.MarkFlagRequired("email")
	createUserCmd.MarkFlagRequired("password")
}
