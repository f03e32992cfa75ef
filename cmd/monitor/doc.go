/*
Monitors ZRE network traffic

Usage:

    monitor [Options]

Examples:

    monitor -group GROUP_NAME

Options:

Usage of monitor:

  -group="*": The group we are going to join. By default joins every group in the network. For multiple groups separate groups with comma.
  -verbose=true: Set verbose flag
*/
package main
