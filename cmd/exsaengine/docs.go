package main

// General API documentation for swaggo. Run `swag init` to regenerate.
//
// @title           EXSA Engine API
// @version         1.0
// @description     HTTP API for local GGUF model inference and hot-swap.
//
// @contact.name   EXSA Engine maintainers
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
