package main

// General API documentation for swaggo. Run `make swagger-gen` to generate docs.
//
// @title           upscaled API
// @version         1.0
// @description     Image upscaling and restoration over local paths and s3:// URIs.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
